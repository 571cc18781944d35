// internal/joblock/joblock.go
package joblock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AskeFunder/flipper-pro-sub000/internal/metrics"
	"github.com/AskeFunder/flipper-pro-sub000/pkg/logger"
)

// ErrHeld возвращается из Acquire, когда лок уже существует.
// Ожидаемая ситуация, не сбой: вызывающий либо пропускает тик, либо
// ждёт освобождения.
var ErrHeld = errors.New("joblock: already held")

// Info — содержимое lock-файла. Сам факт наличия файла и есть состояние;
// поля нужны оператору для инспекции устаревших локов.
type Info struct {
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Age — возраст лока на текущий момент.
func (i Info) Age() time.Duration { return time.Since(i.CreatedAt) }

// Manager управляет именованными lock-файлами одного процесса в
// известной директории. Это локальный маркер взаимного исключения,
// не распределённый лок.
type Manager struct {
	dir   string
	owner string
	log   *logger.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewManager создаёт директорию локов и менеджер.
func NewManager(dir string, log *logger.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("joblock: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("joblock: mkdir %q: %w", dir, err)
	}
	host, _ := os.Hostname()
	return &Manager{
		dir:   dir,
		owner: fmt.Sprintf("%d@%s", os.Getpid(), host),
		log:   log.Named("joblock"),
		held:  make(map[string]struct{}),
	}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// Acquire создаёт lock-файл name. Возвращает ErrHeld, если файл уже есть.
func (m *Manager) Acquire(name string) (*Lock, error) {
	f, err := os.OpenFile(m.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			metrics.LockContention.WithLabelValues(name).Inc()
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("joblock: create %q: %w", name, err)
	}

	info := Info{Owner: m.owner, CreatedAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		f.Close()
		_ = os.Remove(m.path(name))
		return nil, fmt.Errorf("joblock: write %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(m.path(name))
		return nil, fmt.Errorf("joblock: close %q: %w", name, err)
	}

	m.mu.Lock()
	m.held[name] = struct{}{}
	m.mu.Unlock()

	m.log.Debug("lock acquired", zap.String("name", name))
	return &Lock{m: m, name: name}, nil
}

// IsHeld сообщает, существует ли lock-файл name (чей угодно).
func (m *Manager) IsHeld(name string) bool {
	_, err := os.Stat(m.path(name))
	return err == nil
}

// Inspect читает содержимое лока для операторской диагностики.
func (m *Manager) Inspect(name string) (Info, error) {
	var info Info
	b, err := os.ReadFile(m.path(name))
	if err != nil {
		return info, fmt.Errorf("joblock: read %q: %w", name, err)
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("joblock: decode %q: %w", name, err)
	}
	return info, nil
}

// ForceRelease снимает чужой лок. Операторская операция для зависших
// после сбоя локов.
func (m *Manager) ForceRelease(name string) error {
	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("joblock: force release %q: %w", name, err)
	}
	m.log.Warn("lock force-released", zap.String("name", name))
	return nil
}

// ReleaseAll снимает все локи, взятые этим процессом. Вызывается на
// выходе (defer в main), чтобы освобождение гарантировалось и при
// аварийном завершении.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.held))
	for n := range m.held {
		names = append(names, n)
	}
	m.mu.Unlock()

	for _, n := range names {
		m.release(n)
	}
}

func (m *Manager) release(name string) {
	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		m.log.Error("lock release failed", zap.String("name", name), zap.Error(err))
		return
	}
	m.mu.Lock()
	delete(m.held, name)
	m.mu.Unlock()
	m.log.Debug("lock released", zap.String("name", name))
}

// Lock — взятый лок.
type Lock struct {
	m    *Manager
	name string
	once sync.Once
}

// Release снимает лок; идемпотентен.
func (l *Lock) Release() {
	l.once.Do(func() { l.m.release(l.name) })
}
