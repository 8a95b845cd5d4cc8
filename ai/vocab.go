package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Vocabulary отображение id токена -> сырой (byte-level) фрагмент
type Vocabulary struct {
	fragments []string
}

// NewVocabulary инвертирует словарь фрагмент -> id.
// id должны покрывать [0, n) без пропусков и повторов.
func NewVocabulary(byFragment map[string]int) (*Vocabulary, error) {
	n := len(byFragment)
	if n == 0 {
		return nil, fmt.Errorf("%w: vocabulary is empty", ErrModelLoad)
	}

	fragments := make([]string, n)
	seen := make([]bool, n)
	for fragment, id := range byFragment {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("%w: token id %d for %q outside [0, %d)", ErrModelLoad, id, fragment, n)
		}
		if IsTimestamp(id) {
			return nil, fmt.Errorf("%w: token id %d is in the timestamp range", ErrModelLoad, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: token id %d assigned twice (%q, %q)", ErrModelLoad, id, fragments[id], fragment)
		}
		seen[id] = true
		fragments[id] = fragment
	}

	return &Vocabulary{fragments: fragments}, nil
}

// ParseVocabulary читает JSON объект {"fragment": id, ...}
func ParseVocabulary(r io.Reader) (*Vocabulary, error) {
	var raw map[string]int
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode vocabulary: %v", ErrModelLoad, err)
	}
	return NewVocabulary(raw)
}

// LoadVocabulary загружает vocab.json с диска
func LoadVocabulary(path string) (*Vocabulary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer file.Close()

	return ParseVocabulary(file)
}

// Size возвращает количество токенов словаря
func (v *Vocabulary) Size() int {
	return len(v.fragments)
}

// Fragment возвращает сырой фрагмент токена
func (v *Vocabulary) Fragment(id int) (string, bool) {
	if id < 0 || id >= len(v.fragments) {
		return "", false
	}
	return v.fragments[id], true
}
