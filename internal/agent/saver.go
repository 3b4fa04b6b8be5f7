package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/stream"
	"gorm.io/gorm"
)

// Exporter pushes a saved script to an external location (a GitHub repo).
type Exporter interface {
	Export(ctx context.Context, name, content string) (string, error)
}

// Saver persists generated scripts. It closes a generation-only pipeline
// with the final stream event, or hands the script to the execution stage
// when the session asked for a run.
type Saver struct {
	db       *gorm.DB
	exporter Exporter // optional
	sink     bus.EventSink
}

// NewSaver creates a Saver. exporter may be nil.
func NewSaver(db *gorm.DB, exporter Exporter, sink bus.EventSink) (*Saver, error) {
	if db == nil {
		return nil, fmt.Errorf("agent: saver: db is required")
	}
	return &Saver{db: db, exporter: exporter, sink: sink}, nil
}

// Name implements bus.Handler.
func (s *Saver) Name() string { return "saver" }

// Handle implements bus.Handler. Saving is idempotent: a redelivered message
// upserts the same script row rather than creating a duplicate.
func (s *Saver) Handle(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	req, ok := msg.Payload.(ScriptSaveRequest)
	if !ok {
		return nil, fmt.Errorf("agent: saver: unexpected payload %T", msg.Payload)
	}

	script := models.Script{
		ID:        req.ScriptID,
		Name:      req.Name,
		Format:    req.Format,
		Content:   req.Content,
		SessionID: msg.SessionID,
	}
	if err := s.db.Save(&script).Error; err != nil {
		return nil, fmt.Errorf("agent: save script %s: %w", req.ScriptID, err)
	}

	if s.exporter != nil {
		if url, err := s.exporter.Export(ctx, exportFileName(req.Name, req.Format), req.Content); err != nil {
			// Export failure is non-fatal: the script is already persisted.
			log.Printf("agent: saver: export %s: %v", req.ScriptID, err)
		} else {
			log.Printf("agent: saver: exported %s to %s", req.ScriptID, url)
		}
	}

	emit(s.sink, msg, s.Name(), "script_saved",
		fmt.Sprintf("saved %s script %s (%q)", req.Format, req.ScriptID, req.Name),
		stream.RegionGeneration, !req.Execute)

	if req.Execute {
		next := bus.NewMessage(TopicExecution, s.Name(), msg.SessionID, ExecutionRequest{
			ExecutionID: req.ExecutionID,
			ScriptID:    req.ScriptID,
			Format:      req.Format,
			Content:     req.Content,
		})
		return []bus.Message{next}, nil
	}
	return nil, nil
}

// exportFileName turns a script name into a repository file name with the
// extension matching its format.
func exportFileName(name, format string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "script"
	}
	switch format {
	case models.FormatPytest:
		return "test_" + strings.ReplaceAll(slug, "-", "_") + ".py"
	case models.FormatPlaywright:
		return slug + ".spec.ts"
	default:
		return slug + ".yaml"
	}
}
