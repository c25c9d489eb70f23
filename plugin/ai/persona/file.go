package persona

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Personas []personaSchema `toml:"persona"`
}

type personaSchema struct {
	ID                string           `toml:"id"`
	Name              string           `toml:"name"`
	Status            string           `toml:"status"`
	SystemInstruction string           `toml:"system_instruction"`
	Speech            speechSchema     `toml:"speech"`
	Vocabulary        vocabularySchema `toml:"vocabulary"`
	Emotional         emotionalSchema  `toml:"emotional"`
	Cognitive         cognitiveSchema  `toml:"cognitive"`
	Generation        generationSchema `toml:"generation"`
}

type speechSchema struct {
	Style            string   `toml:"style"`
	MaxSentenceWords int      `toml:"max_sentence_words"`
	Contractions     bool     `toml:"contractions"`
	Hints            []string `toml:"hints"`
}

type vocabularySchema struct {
	Substitutions []substitutionSchema `toml:"substitutions"`
}

type substitutionSchema struct {
	Word        string `toml:"word"`
	Replacement string `toml:"replacement"`
}

type emotionalSchema struct {
	BaselineMood        string   `toml:"baseline_mood"`
	FrustrationTriggers []string `toml:"frustration_triggers"`
	ExcitementTriggers  []string `toml:"excitement_triggers"`
}

type cognitiveSchema struct {
	ComprehensionSpeed string `toml:"comprehension_speed"`
}

type generationSchema struct {
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

func (s personaSchema) toProfile() *Profile {
	p := &Profile{
		ID:                s.ID,
		Name:              s.Name,
		Status:            Status(s.Status),
		SystemInstruction: s.SystemInstruction,
		Speech: Speech{
			Style:            s.Speech.Style,
			MaxSentenceWords: s.Speech.MaxSentenceWords,
			Contractions:     s.Speech.Contractions,
			Hints:            s.Speech.Hints,
		},
		Emotional: Emotional{
			BaselineMood:        s.Emotional.BaselineMood,
			FrustrationTriggers: s.Emotional.FrustrationTriggers,
			ExcitementTriggers:  s.Emotional.ExcitementTriggers,
		},
		Cognitive:  Cognitive{ComprehensionSpeed: Speed(s.Cognitive.ComprehensionSpeed)},
		Generation: Generation{Temperature: s.Generation.Temperature, MaxTokens: s.Generation.MaxTokens},
	}
	for _, sub := range s.Vocabulary.Substitutions {
		p.Vocabulary.Substitutions = append(p.Vocabulary.Substitutions, Substitution{Word: sub.Word, Replacement: sub.Replacement})
	}
	return p
}

// FileProvider serves personas declared in a TOML file.
type FileProvider struct {
	*MemoryProvider
	path string
}

// NewFileProvider loads the persona file at path.
func NewFileProvider(path string, defaults Generation) (*FileProvider, error) {
	f := &FileProvider{
		MemoryProvider: &MemoryProvider{personas: map[string]*Profile{}, defaults: defaults},
		path:           path,
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file path.
func (f *FileProvider) Path() string {
	return f.path
}

// Reload re-reads the persona file and atomically swaps the served set.
// A file that fails to parse or validate leaves the previous set in place.
func (f *FileProvider) Reload() error {
	personas, err := loadFile(f.path, f.defaults)
	if err != nil {
		return err
	}
	f.replace(personas)
	return nil
}

func loadFile(path string, defaults Generation) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return decode(data, defaults)
}

func decode(data []byte, defaults Generation) (map[string]*Profile, error) {
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode persona file: %w", err)
	}
	if file.Version == 0 {
		file.Version = currentSchemaVersion
	}
	if file.Version > currentSchemaVersion {
		return nil, fmt.Errorf("unsupported persona schema version %d (current %d)", file.Version, currentSchemaVersion)
	}

	personas := make(map[string]*Profile, len(file.Personas))
	for i, s := range file.Personas {
		p := s.toProfile()
		if err := p.Normalize(defaults); err != nil {
			return nil, fmt.Errorf("persona #%d: %w", i+1, err)
		}
		if _, dup := personas[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		personas[p.ID] = p
	}
	return personas, nil
}

var _ Provider = (*FileProvider)(nil)
