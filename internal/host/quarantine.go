package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"agenthost/internal/domain"
)

const (
	defaultQuarantineMaxFailures = 3
	defaultQuarantineTimeout     = 60 * time.Second
)

// ErrQuarantined is returned when a role's extensions have failed often
// enough that the host stops calling them.
var ErrQuarantined = errors.New("role quarantined")

// QuarantineConfig controls when a faulty role is cut off.
type QuarantineConfig struct {
	// MaxFailures is the number of consecutive extension faults that opens
	// the circuit for a role.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before one trial call.
	Timeout time.Duration
	// Interval clears failure counts while closed. 0 never clears.
	Interval time.Duration
}

// Quarantine keeps one circuit breaker per role around extension calls.
type Quarantine struct {
	cfg      QuarantineConfig
	logger   *slog.Logger
	onChange func(role domain.Role, open bool)

	mu       sync.Mutex
	breakers map[domain.Role]*gobreaker.CircuitBreaker[struct{}]
}

// NewQuarantine creates a quarantine. Zero config fields take defaults.
func NewQuarantine(cfg QuarantineConfig, logger *slog.Logger) *Quarantine {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultQuarantineMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultQuarantineTimeout
	}
	return &Quarantine{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[domain.Role]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// OnChange registers a callback fired when a role is quarantined or released.
func (q *Quarantine) OnChange(fn func(role domain.Role, open bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

func (q *Quarantine) breaker(role domain.Role) *gobreaker.CircuitBreaker[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cb, ok := q.breakers[role]; ok {
		return cb
	}
	maxFailures := q.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "role:" + string(role),
		MaxRequests: 1,
		Interval:    q.cfg.Interval,
		Timeout:     q.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			q.logger.Warn("quarantine state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			q.mu.Lock()
			fn := q.onChange
			q.mu.Unlock()
			if fn != nil && (to == gobreaker.StateOpen || from == gobreaker.StateOpen) {
				fn(role, to == gobreaker.StateOpen)
			}
		},
	})
	q.breakers[role] = cb
	return cb
}

// Execute runs fn through role's breaker. When the breaker is open fn is not
// called and the error wraps ErrQuarantined.
func (q *Quarantine) Execute(role domain.Role, fn func() error) error {
	_, err := q.breaker(role).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrQuarantined, role, err)
	}
	return err
}

// IsQuarantined reports whether role's breaker is open.
func (q *Quarantine) IsQuarantined(role domain.Role) bool {
	return q.breaker(role).State() == gobreaker.StateOpen
}
