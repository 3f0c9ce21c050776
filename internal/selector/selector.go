// Package selector implements the Item Selector: stratified selection of
// assessment questions for one (competency, indicator, difficulty band)
// request, subject to coverage, exposure, freshness, diversity, and context
// policy. See SPEC_FULL.md §5.B.
package selector

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/model"
)

// ItemStore is the read surface the selector needs from storage.
type ItemStore interface {
	ListSelectableItems(ctx context.Context, indicatorID uuid.UUID, band model.DifficultyBand, seed int64) ([]model.AssessmentQuestion, error)
	GetIndicator(ctx context.Context, id uuid.UUID) (model.BehavioralIndicator, error)
	ListIndicatorsByCompetencies(ctx context.Context, competencyIDs []uuid.UUID) ([]model.BehavioralIndicator, error)
}

// WarningKind is a closed set of non-fatal selection warnings.
type WarningKind string

const (
	WarningBorrowingOccurred WarningKind = "BorrowingOccurred"
	WarningInventoryLow      WarningKind = "InventoryLow"
)

// Warning carries a kind plus the indicator it concerns.
type Warning struct {
	Kind        WarningKind `json:"kind"`
	IndicatorID uuid.UUID   `json:"indicator_id"`
	Detail      string      `json:"detail,omitempty"`
}

// Request is one (competency, indicator, band) selection ask.
type Request struct {
	CompetencyID uuid.UUID
	IndicatorID  uuid.UUID
	Band         model.DifficultyBand
	Count        int
	ContextScope model.ContextScope
	// AlreadyChosen excludes items already placed elsewhere in the session
	// so the same item is never selected twice (policy point 4).
	AlreadyChosen map[uuid.UUID]bool
	Seed          int64
	// InventoryFloor is the minimum combined exposure sum below which an
	// InventoryLow warning is emitted (policy point 6).
	InventoryFloor int64
}

// Result is the outcome of one Select call.
type Result struct {
	QuestionIDs []uuid.UUID
	Warnings    []Warning
}

// Selector implements the Item Selector.
type Selector struct {
	store ItemStore
}

func New(store ItemStore) *Selector {
	return &Selector{store: store}
}

// Select chooses up to req.Count items for one indicator/band, borrowing
// from sibling indicators in the same competency when the band is empty,
// per policy point 1.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	candidates, err := s.store.ListSelectableItems(ctx, req.IndicatorID, req.Band, req.Seed)
	if err != nil {
		return Result{}, fmt.Errorf("selector: list candidates: %w", err)
	}
	candidates = filterChosen(candidates, req.AlreadyChosen)

	var warnings []Warning
	if len(candidates) < req.Count {
		borrowed, bwarn, err := s.borrowFromSiblings(ctx, req, len(candidates))
		if err != nil {
			return Result{}, err
		}
		if len(borrowed) > 0 {
			candidates = append(candidates, borrowed...)
			warnings = append(warnings, bwarn...)
		}
	}

	rankItems(candidates, req.ContextScope, req.Seed)

	n := req.Count
	if n > len(candidates) {
		n = len(candidates)
	}
	chosen := candidates[:n]

	exposureSum := int64(0)
	for _, c := range candidates {
		exposureSum += c.ExposureCount
	}
	if req.InventoryFloor > 0 && exposureSum < req.InventoryFloor {
		warnings = append(warnings, Warning{Kind: WarningInventoryLow, IndicatorID: req.IndicatorID,
			Detail: fmt.Sprintf("combined exposure %d below floor %d", exposureSum, req.InventoryFloor)})
	}

	ids := make([]uuid.UUID, len(chosen))
	for i, c := range chosen {
		ids[i] = c.ID
	}
	return Result{QuestionIDs: ids, Warnings: warnings}, nil
}

// borrowFromSiblings looks for additional candidates among other indicators
// of the same competency when the requested indicator/band is short.
func (s *Selector) borrowFromSiblings(ctx context.Context, req Request, have int) ([]model.AssessmentQuestion, []Warning, error) {
	need := req.Count - have
	if need <= 0 {
		return nil, nil, nil
	}
	siblings, err := s.store.ListIndicatorsByCompetencies(ctx, []uuid.UUID{req.CompetencyID})
	if err != nil {
		return nil, nil, fmt.Errorf("selector: list sibling indicators: %w", err)
	}

	var borrowed []model.AssessmentQuestion
	var warnings []Warning
	for _, sib := range siblings {
		if sib.ID == req.IndicatorID || len(borrowed) >= need {
			continue
		}
		extra, err := s.store.ListSelectableItems(ctx, sib.ID, req.Band, req.Seed)
		if err != nil {
			return nil, nil, fmt.Errorf("selector: list sibling candidates: %w", err)
		}
		extra = filterChosen(extra, req.AlreadyChosen)
		if len(extra) == 0 {
			continue
		}
		borrowed = append(borrowed, extra...)
		warnings = append(warnings, Warning{Kind: WarningBorrowingOccurred, IndicatorID: req.IndicatorID,
			Detail: fmt.Sprintf("borrowed from indicator %s", sib.ID)})
	}
	return borrowed, warnings, nil
}

func filterChosen(items []model.AssessmentQuestion, chosen map[uuid.UUID]bool) []model.AssessmentQuestion {
	if len(chosen) == 0 {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if !chosen[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

// rankItems orders candidates by ascending exposure, then by context-scope
// match (exact match before Universal fallback before any other scope),
// then by a deterministic hash tiebreak — policy points 2 and 5.
func rankItems(items []model.AssessmentQuestion, wantScope model.ContextScope, seed int64) {
	scopeRank := func(q model.AssessmentQuestion) int {
		scope, _ := q.Metadata["context_scope"].(string)
		switch {
		case model.ContextScope(scope) == wantScope:
			return 0
		case model.ContextScope(scope) == model.ScopeUniversal || scope == "":
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ExposureCount != items[j].ExposureCount {
			return items[i].ExposureCount < items[j].ExposureCount
		}
		if ri, rj := scopeRank(items[i]), scopeRank(items[j]); ri != rj {
			return ri < rj
		}
		return tiebreakHash(items[i].ID, seed) < tiebreakHash(items[j].ID, seed)
	})
}

// tiebreakHash hashes itemID || sessionSeed so the tiebreak order varies
// per session instead of being a fixed global item ordering.
func tiebreakHash(id uuid.UUID, seed int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], uint64(seed))
	_, _ = h.Write(seedBuf[:])
	return h.Sum64()
}
