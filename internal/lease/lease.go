package lease

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/redis/go-redis/v9"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/store"
	"github.com/sirupsen/logrus"
)

// ARGV: owner, now (unix ms), expires_at (unix ms)
var acquireScript = redis.NewScript(`
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at') or '0')
if expires > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'locked_at', ARGV[2], 'expires_at', ARGV[3])
return 1
`)

// ARGV: owner, expires_at (unix ms)
var renewScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
return 1
`)

// ARGV: owner
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
  return 0
end
return redis.call('DEL', KEYS[1])
`)

// ARGV: now (unix ms)
var clearExpiredScript = redis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if not expires then
  return 0
end
if tonumber(expires) > tonumber(ARGV[1]) then
  return 0
end
return redis.call('DEL', KEYS[1])
`)

// Manager grants time-bounded exclusive ownership of a job
type Manager struct {
	redis redis.UniversalClient
	Now   func() time.Time
	log   *logrus.Entry
}

func NewManager(redisClient redis.UniversalClient) *Manager {
	return &Manager{
		redis: redisClient,
		Now:   time.Now,
		log:   logger.WithModule("lease"),
	}
}

// NewOwnerID returns a worker identity unique to this process
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), shortuuid.New()[:8])
}

// Acquire succeeds only if no lease exists or the existing one has expired.
// A live lease blocks every caller, including its own owner.
func (m *Manager) Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	now := m.Now()
	ok, err := acquireScript.Run(ctx, m.redis, []string{store.LeaseKey(jobID)},
		owner, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return ok == 1, nil
}

// Renew extends the lease if owner is still the recorded owner. False means the lease was lost.
func (m *Manager) Renew(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ok, err := renewScript.Run(ctx, m.redis, []string{store.LeaseKey(jobID)},
		owner, m.Now().Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return ok == 1, nil
}

// Release drops owner's lease. It is idempotent and never fails; errors are logged only.
func (m *Manager) Release(ctx context.Context, jobID, owner string) {
	// The job context may already be cancelled on this path.
	ctx = context.WithoutCancel(ctx)
	released, err := releaseScript.Run(ctx, m.redis, []string{store.LeaseKey(jobID)}, owner).Int()
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"job_id": jobID, "owner": owner}).Warn("Lease release failed")
		return
	}
	if released == 0 {
		m.log.WithFields(logrus.Fields{"job_id": jobID, "owner": owner}).Debug("No lease to release")
	}
}

// ClearExpired deletes the job's lease if it has expired. Reports whether one was cleared.
func (m *Manager) ClearExpired(ctx context.Context, jobID string) (bool, error) {
	n, err := clearExpiredScript.Run(ctx, m.redis, []string{store.LeaseKey(jobID)}, m.Now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to clear lease: %w", err)
	}
	return n > 0, nil
}

// KeepAlive renews the lease every interval until stop is called. The returned
// context is cancelled with store.ErrLeaseLost as its cause once a renewal fails.
func (m *Manager) KeepAlive(ctx context.Context, jobID, owner string, ttl, interval time.Duration) (context.Context, func()) {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				ok, err := m.Renew(leaseCtx, jobID, owner, ttl)
				if err != nil {
					// Transient Redis error: the lease may still be valid, retry next tick.
					m.log.WithError(err).WithField("job_id", jobID).Warn("Lease renewal error")
					continue
				}
				if !ok {
					m.log.WithFields(logrus.Fields{"job_id": jobID, "owner": owner}).Warn("Lease lost, abandoning job")
					cancel(store.ErrLeaseLost)
					return
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			<-finished
			cancel(context.Canceled)
		})
	}
	return leaseCtx, stop
}
