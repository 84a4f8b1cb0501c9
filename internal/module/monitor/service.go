package monitor

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/backend"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/module/audit"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
	"github.com/yothgewalt/discount-card-portal-server/package/minio"
)

type SessionBackend interface {
	ListSessions(ctx context.Context, creds backend.Credentials, query backend.ListQuery) (*backend.SessionPage, error)
	ExpireSession(ctx context.Context, creds backend.Credentials, sessionID string) error
	AdminResend(ctx context.Context, creds backend.Credentials, req backend.AdminResendRequest) (string, error)
	ExportSessions(ctx context.Context, creds backend.Credentials, query backend.ListQuery) (*backend.Export, error)
}

type Options struct {
	PageSize      int
	FetchPageSize int
	MaxFetchPages int
}

type ListRequest struct {
	Page      int    `query:"page" validate:"min=0"`
	Limit     int    `query:"limit" validate:"min=0,max=100"`
	Status    string `query:"status" validate:"omitempty,oneof=all verified pending expired"`
	OTPType   string `query:"otp_type" validate:"omitempty,oneof=all email sms"`
	Purpose   string `query:"purpose" validate:"omitempty,oneof=all card_activation email_verification phone_verification password_reset"`
	Search    string `query:"search" validate:"max=200"`
	SortBy    string `query:"sort_by" validate:"omitempty,oneof=createdAt expiresAt"`
	SortOrder string `query:"sort_order" validate:"omitempty,oneof=asc desc"`
}

func (r ListRequest) filter() otp.Filter {
	return otp.Filter{
		Status:  r.Status,
		OTPType: r.OTPType,
		Purpose: r.Purpose,
		Search:  r.Search,
	}
}

func (r ListRequest) backendQuery() backend.ListQuery {
	return backend.ListQuery{
		SortBy:    r.SortBy,
		SortOrder: r.SortOrder,
		Status:    r.Status,
		OTPType:   r.OTPType,
		Purpose:   r.Purpose,
		Search:    r.Search,
	}
}

type ResendRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	OTPType     string `json:"otp_type" validate:"required,oneof=email sms"`
	Purpose     string `json:"purpose" validate:"required,oneof=card_activation email_verification phone_verification password_reset"`
	ContactInfo string `json:"contact_info" validate:"required,max=254"`
}

// SessionView is a session as operators see it. Contact info is masked in
// list views and complete in the detail view.
type SessionView struct {
	SessionID            string      `json:"session_id"`
	UserID               string      `json:"user_id"`
	UserName             string      `json:"user_name"`
	UserEmail            string      `json:"user_email"`
	OTPType              otp.Type    `json:"otp_type"`
	Purpose              otp.Purpose `json:"purpose"`
	ContactInfo          string      `json:"contact_info"`
	Status               otp.Status  `json:"status"`
	CreatedAt            time.Time   `json:"created_at"`
	ExpiresAt            time.Time   `json:"expires_at"`
	RemainingSeconds     int         `json:"remaining_seconds"`
	VerificationAttempts int         `json:"verification_attempts"`
	MaxAttempts          int         `json:"max_attempts"`
	ResendCount          int         `json:"resend_count"`
	MaxResends           int         `json:"max_resends"`
	AttemptsExhausted    bool        `json:"attempts_exhausted"`
}

func newSessionView(s otp.Session, now time.Time, masked bool) SessionView {
	contact := s.ContactInfo
	if masked {
		contact = otp.MaskContact(contact)
	}
	return SessionView{
		SessionID:            s.SessionID,
		UserID:               s.UserID,
		UserName:             s.UserName,
		UserEmail:            s.UserEmail,
		OTPType:              s.OTPType,
		Purpose:              s.Purpose,
		ContactInfo:          contact,
		Status:               otp.DerivedStatus(s, now),
		CreatedAt:            s.CreatedAt,
		ExpiresAt:            s.ExpiresAt,
		RemainingSeconds:     otp.Remaining(s.ExpiresAt, now),
		VerificationAttempts: s.VerificationAttempts,
		MaxAttempts:          s.MaxAttempts,
		ResendCount:          s.ResendCount,
		MaxResends:           s.MaxResends,
		AttemptsExhausted:    s.AttemptsExhausted(),
	}
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type ListView struct {
	Sessions   []SessionView  `json:"sessions"`
	Pagination Pagination     `json:"pagination"`
	Statistics otp.Statistics `json:"statistics"`
	Truncated  bool           `json:"truncated"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

type ResendResult struct {
	Message string    `json:"message"`
	List    *ListView `json:"list"`
}

type MonitorService interface {
	List(ctx context.Context, creds backend.Credentials, req ListRequest) (*ListView, error)
	Detail(ctx context.Context, creds backend.Credentials, sessionID string) (*SessionView, error)
	Expire(ctx context.Context, creds backend.Credentials, origin audit.Origin, sessionID string, req ListRequest) (*ListView, error)
	Resend(ctx context.Context, creds backend.Credentials, origin audit.Origin, req ResendRequest, list ListRequest) (*ResendResult, error)
	Export(ctx context.Context, creds backend.Credentials, origin audit.Origin, req ListRequest) (*backend.Export, error)
}

type monitorService struct {
	backend  SessionBackend
	archive  minio.MinIOService
	recorder audit.Recorder
	options  Options
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMonitorService builds the operator view. archive may be nil.
func NewMonitorService(
	sessions SessionBackend,
	archive minio.MinIOService,
	recorder audit.Recorder,
	options Options,
	logger zerolog.Logger,
) MonitorService {
	if options.PageSize <= 0 {
		options.PageSize = otp.DefaultPageSize
	}
	if options.FetchPageSize <= 0 {
		options.FetchPageSize = 100
	}
	if options.MaxFetchPages <= 0 {
		options.MaxFetchPages = 50
	}

	return &monitorService{
		backend:  sessions,
		archive:  archive,
		recorder: recorder,
		options:  options,
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
	}
}

// fetchAll walks the backend's pages until a short page, the reported last
// page, or the page cap. Sessions seen twice across pages are kept once.
func (s *monitorService) fetchAll(ctx context.Context, creds backend.Credentials, req ListRequest) ([]otp.Session, bool, error) {
	var (
		sessions  []otp.Session
		seen      = make(map[string]struct{})
		truncated = true
	)

	for page := 1; page <= s.options.MaxFetchPages; page++ {
		result, err := s.backend.ListSessions(ctx, creds, backend.ListQuery{
			Page:      page,
			Limit:     s.options.FetchPageSize,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			return nil, false, err
		}

		for _, session := range result.Sessions {
			if _, ok := seen[session.SessionID]; ok {
				continue
			}
			seen[session.SessionID] = struct{}{}
			sessions = append(sessions, session)
		}

		last := len(result.Sessions) < s.options.FetchPageSize
		if result.Pagination != nil && result.Pagination.TotalPages > 0 && page >= result.Pagination.TotalPages {
			last = true
		}
		if last {
			truncated = false
			break
		}
	}

	if truncated {
		s.logger.Warn().
			Int("pages", s.options.MaxFetchPages).
			Int("sessions", len(sessions)).
			Msg("session list truncated at page cap")
	}

	return sessions, truncated, nil
}

func (s *monitorService) List(ctx context.Context, creds backend.Credentials, req ListRequest) (*ListView, error) {
	sessions, truncated, err := s.fetchAll(ctx, creds, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	filtered := req.filter().Apply(sessions, now)
	otp.Sort(filtered, req.SortBy, req.SortOrder)

	limit := req.Limit
	if limit <= 0 {
		limit = s.options.PageSize
	}
	page := otp.Paginate(filtered, req.Page, limit)

	views := make([]SessionView, 0, len(page.Items))
	for _, session := range page.Items {
		views = append(views, newSessionView(session, now, true))
	}

	return &ListView{
		Sessions: views,
		Pagination: Pagination{
			Page:       page.Page,
			Limit:      page.PageSize,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
		Statistics: otp.ComputeStatistics(sessions, now),
		Truncated:  truncated,
		FetchedAt:  now.UTC(),
	}, nil
}

func (s *monitorService) Detail(ctx context.Context, creds backend.Credentials, sessionID string) (*SessionView, error) {
	sessions, _, err := s.fetchAll(ctx, creds, ListRequest{})
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if session.SessionID == sessionID {
			view := newSessionView(session, s.now(), false)
			return &view, nil
		}
	}
	return nil, failure.Missing("Session not found.")
}

// Expire asks the backend to end a session and returns a fresh list. The
// local copy is never edited in place.
func (s *monitorService) Expire(ctx context.Context, creds backend.Credentials, origin audit.Origin, sessionID string, req ListRequest) (*ListView, error) {
	err := s.backend.ExpireSession(ctx, creds, sessionID)

	rec := audit.New(audit.ActionExpire, origin, err)
	rec.SessionID = sessionID
	audit.Write(ctx, s.recorder, s.logger, rec)

	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", sessionID).Str("actor", origin.Actor).Msg("session expired by operator")
	return s.List(ctx, creds, req)
}

func (s *monitorService) Resend(ctx context.Context, creds backend.Credentials, origin audit.Origin, req ResendRequest, list ListRequest) (*ResendResult, error) {
	message, err := s.backend.AdminResend(ctx, creds, backend.AdminResendRequest{
		UserID:      req.UserID,
		OTPType:     otp.Type(req.OTPType),
		Purpose:     otp.Purpose(req.Purpose),
		ContactInfo: strings.TrimSpace(req.ContactInfo),
	})

	rec := audit.New(audit.ActionResend, origin, err)
	rec.Target = req.UserID
	audit.Write(ctx, s.recorder, s.logger, rec)

	if err != nil {
		return nil, err
	}
	if message == "" {
		message = "A new code has been sent."
	}

	view, err := s.List(ctx, creds, list)
	if err != nil {
		return nil, err
	}
	return &ResendResult{Message: message, List: view}, nil
}

// Export downloads the backend's export and keeps a copy in object storage
// when it is configured. Archive failures do not fail the download.
func (s *monitorService) Export(ctx context.Context, creds backend.Credentials, origin audit.Origin, req ListRequest) (*backend.Export, error) {
	export, err := s.backend.ExportSessions(ctx, creds, req.backendQuery())

	rec := audit.New(audit.ActionExport, origin, err)
	if err != nil {
		audit.Write(ctx, s.recorder, s.logger, rec)
		return nil, failure.WithChannel(err, failure.Blocking)
	}

	export.Filename = path.Base(strings.ReplaceAll(export.Filename, "\\", "/"))
	rec.Target = export.Filename
	if key, ok := s.store(ctx, export); ok {
		rec.Target = key
	}
	audit.Write(ctx, s.recorder, s.logger, rec)

	return export, nil
}

func (s *monitorService) store(ctx context.Context, export *backend.Export) (string, bool) {
	if s.archive == nil {
		return "", false
	}

	key := archiveKey(s.now().UTC(), export.Filename)
	object, err := s.archive.PutObject(ctx, key, bytes.NewReader(export.Body), int64(len(export.Body)), export.ContentType)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to archive session export")
		return "", false
	}

	s.logger.Info().Str("key", object.Key).Int64("size", object.Size).Msg("session export archived")
	return object.Key, true
}

func archiveKey(at time.Time, filename string) string {
	return fmt.Sprintf("exports/%04d/%02d/%s-%s", at.Year(), int(at.Month()), at.Format("20060102T150405Z"), filename)
}
