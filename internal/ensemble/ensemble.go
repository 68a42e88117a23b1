// Package ensemble merges the findings of multiple detectors that refer to
// the same timestamp and field group into single higher-confidence anomalies.
package ensemble

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// AlgorithmName is the algorithm label carried by merged anomalies.
const AlgorithmName = "ensemble"

// confidenceBoost is added to the averaged confidence of agreeing
// detectors. Agreement increases trust, but the result stays capped below
// certainty by detection.MaxConfidence.
const confidenceBoost = 0.1

// Combine reduces the concatenated outputs of all detectors for one batch.
// Anomalies are grouped by (timestamp, sorted affected-field names); groups
// with a single member pass through unchanged, groups with several are
// merged. The reduction is deterministic: output is ordered by timestamp,
// then group key.
//
// Combine must only run after every detector for the batch has finished.
func Combine(anomalies []detection.DetectedAnomaly) []detection.DetectedAnomaly {
	if len(anomalies) <= 1 {
		return anomalies
	}

	groups := make(map[string][]detection.DetectedAnomaly)
	for _, a := range anomalies {
		groups[groupKey(&a)] = append(groups[groupKey(&a)], a)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]detection.DetectedAnomaly, 0, len(groups))
	for _, k := range keys {
		group := groups[k]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		out = append(out, merge(group))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return groupKeyOf(out[i]) < groupKeyOf(out[j])
	})
	return out
}

// merge folds a group of agreeing anomalies into one.
func merge(group []detection.DetectedAnomaly) detection.DetectedAnomaly {
	// Start from the most severe input so type, context, and field details
	// come from the strongest signal.
	base := group[0]
	for _, a := range group[1:] {
		if a.Severity.Rank() > base.Severity.Rank() ||
			(a.Severity.Rank() == base.Severity.Rank() && a.Score > base.Score) {
			base = a
		}
	}

	var confSum, maxConf, maxScore float64
	algorithms := make([]string, 0, len(group))
	var factors []string
	seen := make(map[string]struct{})
	for _, a := range group {
		confSum += a.Confidence
		if a.Confidence > maxConf {
			maxConf = a.Confidence
		}
		if a.Score > maxScore {
			maxScore = a.Score
		}
		algorithms = append(algorithms, a.Algorithm)
		for _, f := range a.Explanation.ContributingFactors {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			factors = append(factors, f)
		}
	}
	sort.Strings(algorithms)
	factors = append(factors, fmt.Sprintf("%d algorithms agreed: %s",
		len(group), strings.Join(algorithms, ", ")))

	merged := base
	merged.ID = uuid.NewString()
	merged.Algorithm = AlgorithmName
	// Boosted average, floored at the strongest input: agreement must never
	// read as less certain than the most confident detector alone.
	merged.Confidence = detection.CapConfidence(math.Max(confSum/float64(len(group))+confidenceBoost, maxConf))
	merged.Score = maxScore
	merged.Explanation.ContributingFactors = factors
	merged.Explanation.Summary = fmt.Sprintf("%s (confirmed by %d algorithms)",
		base.Explanation.Summary, len(group))
	return merged
}

func groupKey(a *detection.DetectedAnomaly) string {
	names := make([]string, len(a.AffectedFields))
	for i, f := range a.AffectedFields {
		names[i] = f.FieldName
	}
	sort.Strings(names)
	return strconv.FormatInt(a.Timestamp.UnixNano(), 10) + "|" + strings.Join(names, ",")
}

func groupKeyOf(a detection.DetectedAnomaly) string {
	return groupKey(&a)
}
