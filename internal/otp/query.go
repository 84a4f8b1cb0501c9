package otp

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	FilterAll       = "all"
	DefaultPageSize = 10
)

// Filter constrains a session list. Empty fields and "all" match everything.
// All set fields must match.
type Filter struct {
	Status  string
	OTPType string
	Purpose string
	Search  string
}

func active(v string) bool {
	return v != "" && !strings.EqualFold(v, FilterAll)
}

func (f Filter) Matches(s Session, now time.Time) bool {
	if active(f.Status) && !strings.EqualFold(string(DerivedStatus(s, now)), f.Status) {
		return false
	}
	if active(f.OTPType) && !strings.EqualFold(string(s.OTPType), f.OTPType) {
		return false
	}
	if active(f.Purpose) && !strings.EqualFold(string(s.Purpose), f.Purpose) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		fields := []string{s.UserName, s.UserEmail, s.SessionID, s.ContactInfo}
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
		return false
	}
	return true
}

func (f Filter) Apply(sessions []Session, now time.Time) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if f.Matches(s, now) {
			out = append(out, s)
		}
	}
	return out
}

type Statistics struct {
	Total            int     `json:"total"`
	Verified         int     `json:"verified"`
	Pending          int     `json:"pending"`
	Expired          int     `json:"expired"`
	Today            int     `json:"today"`
	VerificationRate float64 `json:"verification_rate"`
}

// VerificationRate is verified/total*100 rounded to one decimal, 0 when total is 0.
func VerificationRate(verified, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(verified)/float64(total)*1000) / 10
}

// ComputeStatistics counts derived statuses and sessions created on now's calendar day.
func ComputeStatistics(sessions []Session, now time.Time) Statistics {
	stats := Statistics{Total: len(sessions)}
	y, m, d := now.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	for _, s := range sessions {
		switch DerivedStatus(s, now) {
		case StatusVerified:
			stats.Verified++
		case StatusExpired:
			stats.Expired++
		default:
			stats.Pending++
		}
		if !s.CreatedAt.Before(startOfDay) {
			stats.Today++
		}
	}

	stats.VerificationRate = VerificationRate(stats.Verified, stats.Total)
	return stats
}

type Page struct {
	Items      []Session `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

// Paginate clamps page to [1, totalPages]; totalPages is at least 1.
func Paginate(items []Session, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page{
		Items:      items[start:end],
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}

const (
	SortByCreatedAt = "createdAt"
	SortByExpiresAt = "expiresAt"
	SortAsc         = "asc"
	SortDesc        = "desc"
)

// Sort orders sessions in place by createdAt (default) or expiresAt,
// descending unless order is "asc". Ties keep their input order.
func Sort(sessions []Session, by, order string) {
	key := func(s Session) time.Time { return s.CreatedAt }
	if by == SortByExpiresAt {
		key = func(s Session) time.Time { return s.ExpiresAt }
	}
	asc := strings.EqualFold(order, SortAsc)

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := key(sessions[i]), key(sessions[j])
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})
}
