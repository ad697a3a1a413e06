package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

// SearchRequest needs either Date or both StartDate and EndDate. Every other
// field is an optional filter.
type SearchRequest struct {
	Date              *time.Time
	StartDate         *time.Time
	EndDate           *time.Time
	Specialization    string
	Location          string // case-insensitive substring of the rule's address
	LocationType      LocationType
	AppointmentType   AppointmentType
	InsuranceAccepted *bool
	MaxPrice          *float64
	Timezone          string
}

type ProviderSummary struct {
	ID                uuid.UUID
	Name              string
	Specialization    string
	YearsOfExperience int
	ClinicAddress     string
}

type SearchSlot struct {
	Slot                Slot
	Timezone            string
	Location            *Location
	Pricing             *Pricing
	SpecialRequirements []string
}

type ProviderMatch struct {
	Provider ProviderSummary
	Slots    []SearchSlot
}

type SearchResult struct {
	DateRange    DateRange
	TotalResults int
	Results      []ProviderMatch
}

// SearchAvailability finds AVAILABLE slots across providers and groups them
// by provider, ordered by provider name and then slot start.
func (s *Service) SearchAvailability(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	from, to, err := req.resolve()
	if err != nil {
		return nil, err
	}
	if req.AppointmentType != "" && !req.AppointmentType.Valid() {
		return nil, apperrors.Validation("unknown appointment type %q", req.AppointmentType)
	}
	if req.LocationType != "" && !req.LocationType.Valid() {
		return nil, apperrors.Validation("unknown location type %q", req.LocationType)
	}

	if req.MaxPrice != nil && *req.MaxPrice < 0 {
		return nil, apperrors.Validation("max price must not be negative")
	}

	listings, err := s.repo.SearchSlots(ctx, SlotQuery{
		From:              from,
		To:                to.AddDate(0, 0, 1),
		Specialization:    req.Specialization,
		AppointmentType:   req.AppointmentType,
		Location:          req.Location,
		LocationType:      req.LocationType,
		InsuranceAccepted: req.InsuranceAccepted,
		MaxPrice:          req.MaxPrice,
		Timezone:          req.Timezone,
		Limit:             s.searchCap + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("search slots: %w", err)
	}
	if len(listings) > s.searchCap {
		return nil, apperrors.Validation("search matched more than %d slots, narrow the date range or filters", s.searchCap)
	}

	matched := listings[:0]
	for _, l := range listings {
		if req.Matches(l) {
			matched = append(matched, l)
		}
	}

	results := GroupByProvider(matched)
	return &SearchResult{
		DateRange:    DateRange{Start: from, End: to},
		TotalResults: len(results),
		Results:      results,
	}, nil
}

func (q SlotQuery) request() SearchRequest {
	return SearchRequest{
		Specialization:    q.Specialization,
		Location:          q.Location,
		LocationType:      q.LocationType,
		AppointmentType:   q.AppointmentType,
		InsuranceAccepted: q.InsuranceAccepted,
		MaxPrice:          q.MaxPrice,
		Timezone:          q.Timezone,
	}
}

// Matches applies the filters that need the joined rule and provider.
// Slots without location or pricing never match a filter on those fields.
func (r SearchRequest) Matches(l SlotListing) bool {
	if l.Slot.Status != SlotAvailable {
		return false
	}
	if r.Specialization != "" && !strings.EqualFold(l.Provider.Specialization, r.Specialization) {
		return false
	}
	if r.AppointmentType != "" && l.Slot.AppointmentType != r.AppointmentType {
		return false
	}
	if r.Timezone != "" && l.Rule.Timezone != r.Timezone {
		return false
	}

	loc := l.Rule.Location
	if r.Location != "" {
		if loc == nil || !strings.Contains(strings.ToLower(loc.Address), strings.ToLower(r.Location)) {
			return false
		}
	}
	if r.LocationType != "" && (loc == nil || loc.Type != r.LocationType) {
		return false
	}

	price := l.Rule.Pricing
	if r.InsuranceAccepted != nil && (price == nil || price.InsuranceAccepted != *r.InsuranceAccepted) {
		return false
	}
	if r.MaxPrice != nil && (price == nil || price.BaseFee > *r.MaxPrice) {
		return false
	}
	return true
}

// GroupByProvider collects listings per provider.
func GroupByProvider(listings []SlotListing) []ProviderMatch {
	index := make(map[uuid.UUID]int)
	var out []ProviderMatch

	for _, l := range listings {
		i, ok := index[l.Provider.ID]
		if !ok {
			i = len(out)
			index[l.Provider.ID] = i
			out = append(out, ProviderMatch{Provider: ProviderSummary{
				ID:                l.Provider.ID,
				Name:              l.Provider.Name(),
				Specialization:    l.Provider.Specialization,
				YearsOfExperience: l.Provider.YearsOfExperience,
				ClinicAddress:     l.Provider.ClinicAddress.String(),
			}})
		}
		out[i].Slots = append(out[i].Slots, SearchSlot{
			Slot:                l.Slot,
			Timezone:            l.Rule.Timezone,
			Location:            l.Rule.Location,
			Pricing:             l.Rule.Pricing,
			SpecialRequirements: l.Rule.SpecialRequirements,
		})
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Provider.Name != out[b].Provider.Name {
			return out[a].Provider.Name < out[b].Provider.Name
		}
		return out[a].Provider.ID.String() < out[b].Provider.ID.String()
	})
	for _, m := range out {
		sort.SliceStable(m.Slots, func(a, b int) bool {
			return m.Slots[a].Slot.StartTime.Before(m.Slots[b].Slot.StartTime)
		})
	}
	return out
}
