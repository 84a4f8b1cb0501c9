package monitor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
	"github.com/yothgewalt/discount-card-portal-server/package/minio"
)

var epoch = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type nopCreds struct{}

func (nopCreds) Token(scope backend.Scope) string                    { return "admin-token" }
func (nopCreds) Invalidate(ctx context.Context, scope backend.Scope) {}

// fakeSessions serves sessions page by page the way the backend does.
type fakeSessions struct {
	mu sync.Mutex

	sessions  []otp.Session
	listErr   error
	expireErr error
	resendErr error
	exportErr error
	export    *backend.Export

	queries []backend.ListQuery
	expired []string
	resends []backend.AdminResendRequest
	exports []backend.ListQuery
}

func (f *fakeSessions) ListSessions(ctx context.Context, creds backend.Credentials, query backend.ListQuery) (*backend.SessionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.listErr != nil {
		return nil, f.listErr
	}

	start := (query.Page - 1) * query.Limit
	end := start + query.Limit
	if start > len(f.sessions) {
		start = len(f.sessions)
	}
	if end > len(f.sessions) {
		end = len(f.sessions)
	}
	totalPages := (len(f.sessions) + query.Limit - 1) / query.Limit

	return &backend.SessionPage{
		Sessions:   append([]otp.Session(nil), f.sessions[start:end]...),
		Pagination: &backend.Pagination{Page: query.Page, Limit: query.Limit, Total: len(f.sessions), TotalPages: totalPages},
	}, nil
}

func (f *fakeSessions) ExpireSession(ctx context.Context, creds backend.Credentials, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sessionID)
	if f.expireErr != nil {
		return f.expireErr
	}
	for i := range f.sessions {
		if f.sessions[i].SessionID == sessionID {
			f.sessions[i].ExpiresAt = epoch.Add(-time.Second)
		}
	}
	return nil
}

func (f *fakeSessions) AdminResend(ctx context.Context, creds backend.Credentials, req backend.AdminResendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends = append(f.resends, req)
	if f.resendErr != nil {
		return "", f.resendErr
	}
	return "", nil
}

func (f *fakeSessions) ExportSessions(ctx context.Context, creds backend.Credentials, query backend.ListQuery) (*backend.Export, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, query)
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	export := *f.export
	return &export, nil
}

func (f *fakeSessions) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeArchive struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
}

func (a *fakeArchive) HealthCheck(ctx context.Context) minio.HealthStatus {
	return minio.HealthStatus{Connected: true, BucketExists: true, BucketName: "portal-exports"}
}

func (a *fakeArchive) PutObject(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) (*minio.StoredObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[objectName] = body
	return &minio.StoredObject{Bucket: "portal-exports", Key: objectName, Size: int64(len(body))}, nil
}

func (a *fakeArchive) PresignedGetURL(ctx context.Context, objectName string, expires time.Duration) (*url.URL, error) {
	return url.Parse("http://minio.local/portal-exports/" + objectName)
}

func (a *fakeArchive) Close() error { return nil }

type memoryRecorder struct {
	mu      sync.Mutex
	records []audit.Record
}

func (m *memoryRecorder) Record(ctx context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) All() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.records...)
}

// seedSessions returns n sessions created a minute apart, newest last.
// Every third is verified and every fourth unverified one has expired.
func seedSessions(n int) []otp.Session {
	sessions := make([]otp.Session, 0, n)
	for i := 0; i < n; i++ {
		s := otp.Session{
			SessionID:   fmt.Sprintf("S%02d", i),
			UserID:      fmt.Sprintf("U%02d", i),
			UserName:    fmt.Sprintf("User %02d", i),
			UserEmail:   fmt.Sprintf("user%02d@example.com", i),
			OTPType:     otp.TypeEmail,
			Purpose:     otp.PurposeCardActivation,
			ContactInfo: fmt.Sprintf("user%02d@example.com", i),
			CreatedAt:   epoch.Add(-time.Duration(n-i) * time.Minute),
			ExpiresAt:   epoch.Add(5 * time.Minute),
			MaxAttempts: 3,
			MaxResends:  3,
		}
		switch {
		case i%3 == 0:
			s.IsVerified = true
		case i%4 == 0:
			s.ExpiresAt = epoch.Add(-time.Minute)
		}
		if i%2 == 1 {
			s.OTPType = otp.TypeSMS
			s.ContactInfo = fmt.Sprintf("+66812345%03d", i)
		}
		sessions = append(sessions, s)
	}
	return sessions
}

type fixture struct {
	sessions *fakeSessions
	archive  *fakeArchive
	recorder *memoryRecorder
	service  *monitorService
}

func newFixture(t *testing.T, n int, options Options) *fixture {
	t.Helper()

	sessions := &fakeSessions{
		sessions: seedSessions(n),
		export:   &backend.Export{Filename: "sessions.csv", ContentType: "text/csv", Body: []byte("id\nS00\n")},
	}
	archive := &fakeArchive{}
	recorder := &memoryRecorder{}
	service := NewMonitorService(sessions, archive, recorder, options, zerolog.Nop()).(*monitorService)
	service.now = func() time.Time { return epoch }

	return &fixture{sessions: sessions, archive: archive, recorder: recorder, service: service}
}
