package engine

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clucraft/phusage-sub000/pkg/models"
)

// ErrUserNotFound means no call record carries an email matching the query.
var ErrUserNotFound = errors.New("user not found")

// RatedCall is a call with its resolved rate and display cost.
type RatedCall struct {
	models.CallRecord
	PricePerMinute decimal.Decimal `json:"price_per_minute"`
	RateFound      bool            `json:"rate_found"`
	Tier           Tier            `json:"tier"`
	Cost           decimal.Decimal `json:"cost"`
}

// UserDetail is the result of a direct user lookup.
type UserDetail struct {
	Query   string      `json:"query"`
	Emails  []string    `json:"emails"`
	Name    string      `json:"name"`
	Calls   []RatedCall `json:"calls"`
	Summary Summary     `json:"summary"`
}

// FindUser matches query case-insensitively as a substring of user emails.
// The filter restricts the returned calls only: a matching user with no calls
// in range is a valid, empty result.
func FindUser(records []models.CallRecord, cat *Catalog, query string, f Filter) (*UserDetail, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, ErrUserNotFound
	}

	emails := make(map[string]struct{})
	matched := make([]models.CallRecord, 0)
	var name string
	for _, r := range records {
		if r.UserEmail == "" || !strings.Contains(strings.ToLower(r.UserEmail), needle) {
			continue
		}
		emails[r.UserEmail] = struct{}{}
		if n := strings.TrimSpace(r.UserName); n != "" && (name == "" || n < name) {
			name = n
		}
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	if len(emails) == 0 {
		return nil, ErrUserNotFound
	}

	detail := &UserDetail{
		Query:  query,
		Name:   name,
		Emails: make([]string, 0, len(emails)),
		Calls:  make([]RatedCall, 0, len(matched)),
	}
	for e := range emails {
		detail.Emails = append(detail.Emails, e)
	}
	sort.Strings(detail.Emails)

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.Before(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	for _, r := range matched {
		res, cost := RateCall(cat, r, f)
		detail.Calls = append(detail.Calls, RatedCall{
			CallRecord:     r,
			PricePerMinute: res.PricePerMinute,
			RateFound:      res.Found,
			Tier:           res.Tier,
			Cost:           RoundMoney(cost),
		})
	}
	detail.Summary = Summarize(matched, cat, f)
	return detail, nil
}
