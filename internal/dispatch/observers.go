package dispatch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/slapchain/oracled/internal/model"
)

// Observer receives every non-silent oracle response.
type Observer func(model.OracleResponse)

// ObserverSet fans responses out to registered observers. Each observer is
// isolated: a panic in one is recovered and logged so the rest still see the
// response. Fan-out order is unspecified.
type ObserverSet struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Observer
	logger *zap.Logger
}

func NewObserverSet(logger *zap.Logger) *ObserverSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObserverSet{
		subs:   make(map[int]Observer),
		logger: logger.Named("observers"),
	}
}

// Register adds an observer and returns its cancel function.
func (s *ObserverSet) Register(obs Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Notify delivers resp to a snapshot of the current observers.
func (s *ObserverSet) Notify(resp model.OracleResponse) {
	s.mu.Lock()
	snapshot := make([]Observer, 0, len(s.subs))
	for _, obs := range s.subs {
		snapshot = append(snapshot, obs)
	}
	s.mu.Unlock()

	for _, obs := range snapshot {
		s.notifyOne(obs, resp)
	}
}

func (s *ObserverSet) notifyOne(obs Observer, resp model.OracleResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("response observer panicked",
				zap.String("response_id", resp.ResponseID),
				zap.Any("panic", r))
		}
	}()
	obs(resp)
}

// Close deregisters every observer. Used on session teardown.
func (s *ObserverSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[int]Observer)
}

// Len reports the number of registered observers.
func (s *ObserverSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
