package question

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/store"
)

//go:embed seed/questions.yaml
var defaultCatalog string

type catalogFile struct {
	Questions []catalogQuestion `yaml:"questions"`
}

type catalogQuestion struct {
	ID          string   `yaml:"id"`
	Prompt      string   `yaml:"prompt"`
	Label       string   `yaml:"label"`
	Explanation string   `yaml:"explanation"`
	ImageURL    string   `yaml:"image_url"`
	Tags        []string `yaml:"tags"`
	Inactive    bool     `yaml:"inactive"`
}

// DefaultCatalog returns the starter questions shipped with the binary.
func DefaultCatalog() ([]domain.Question, error) {
	return LoadCatalog(strings.NewReader(defaultCatalog))
}

// LoadCatalog parses a YAML question catalog.
func LoadCatalog(r io.Reader) ([]domain.Question, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Questions))
	qs := make([]domain.Question, 0, len(f.Questions))
	for i, c := range f.Questions {
		label, ok := domain.ParseLabel(c.Label)
		if !ok {
			return nil, fmt.Errorf("question #%d (%s): invalid label %q", i+1, c.ID, c.Label)
		}
		if c.ID == "" || c.Prompt == "" || c.Explanation == "" {
			return nil, fmt.Errorf("question #%d: id, prompt and explanation are required", i+1)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("question #%d: duplicate id %s", i+1, c.ID)
		}
		seen[c.ID] = struct{}{}

		q := domain.Question{
			ID:          c.ID,
			Prompt:      c.Prompt,
			Label:       label,
			Explanation: c.Explanation,
			Tags:        c.Tags,
			Active:      !c.Inactive,
		}
		if c.ImageURL != "" {
			u := c.ImageURL
			q.ImageURL = &u
		}
		qs = append(qs, q)
	}

	return qs, nil
}

// Seed inserts the catalog when the question table is empty and reports how many
// questions were written.
func Seed(ctx context.Context, st store.Store, qs []domain.Question) (int, error) {
	var n int
	err := st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		count, err := tx.CountQuestions(ctx)
		if err != nil {
			return fmt.Errorf("count questions: %w", err)
		}
		if count > 0 {
			return nil
		}

		for _, q := range qs {
			if err := tx.CreateQuestion(ctx, q); err != nil {
				return fmt.Errorf("create question %s: %w", q.ID, err)
			}
		}
		n = len(qs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		slog.InfoContext(ctx, "question: seeded catalog", "count", n)
	}
	return n, nil
}
