package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/relayer"
)

// DeadLetter es una entrada del diario: el mensaje agotado y por qué.
type DeadLetter struct {
	RecordedAt time.Time                  `json:"recordedAt"`
	Reason     string                     `json:"reason"`
	Message    sharedDomain.OutboxMessage `json:"message"`
}

// JSONDeadLetterJournal guarda en un fichero JSON los mensajes del outbox que
// agotaron sus reintentos, para que un operador los revise sin abrir la base de datos.
type JSONDeadLetterJournal struct {
	filePath string
	mu       sync.Mutex
	now      func() time.Time
}

func NewJSONDeadLetterJournal(filePath string) *JSONDeadLetterJournal {
	return &JSONDeadLetterJournal{filePath: filePath, now: time.Now}
}

// Record añade el mensaje al diario. Si el fichero no existe, lo crea.
func (j *JSONDeadLetterJournal) Record(ctx context.Context, msg sharedDomain.OutboxMessage, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return err
	}
	entries = append(entries, DeadLetter{RecordedAt: j.now().UTC(), Reason: reason, Message: msg})
	return j.writeAll(entries)
}

// GetAll devuelve el diario en orden de registro.
func (j *JSONDeadLetterJournal) GetAll(ctx context.Context) ([]DeadLetter, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readAll()
}

// Forget quita del diario las entradas del mensaje, tras reencolarlo.
func (j *JSONDeadLetterJournal) Forget(ctx context.Context, outboxID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.Message.ID != outboxID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return j.writeAll(kept)
}

// readAll no toma el mutex; el llamador ya lo tiene.
func (j *JSONDeadLetterJournal) readAll() ([]DeadLetter, error) {
	data, err := os.ReadFile(j.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeadLetter{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []DeadLetter{}, nil
	}

	var entries []DeadLetter
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// writeAll escribe a un temporal y renombra, así un fallo a mitad no trunca el diario.
func (j *JSONDeadLetterJournal) writeAll(entries []DeadLetter) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, j.filePath)
}

var _ relayer.DeadLetterSink = (*JSONDeadLetterJournal)(nil)
