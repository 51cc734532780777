package search

import (
	"fmt"
	"math"
)

// Ranking weights. relevance = search_rank + download_rank + quality_rank.
const (
	// RankNormalization is the ts_rank normalization flag that maps a raw
	// rank r to r/(r+1).
	RankNormalization = 32

	CommunityScoreModifier    = 0.002
	CommunityScoreModifierMin = 0.005
	DownloadRankMultiplier    = 0.4
	QualityRankMultiplier     = 0.2
)

// Ranks are the components of a result's relevance. Every result carries
// them so clients can show why something ranked where it did.
type Ranks struct {
	SearchRank   float64 `json:"search_rank"`
	DownloadRank float64 `json:"download_rank"`
	QualityRank  float64 `json:"quality_rank"`
	Relevance    float64 `json:"relevance"`
}

// NormalizeRank applies the RankNormalization transform to a raw score.
func NormalizeRank(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}

// DownloadRank weighs downloads logarithmically, scaled up by the community
// score so well rated content climbs faster.
func DownloadRank(downloads int64, communityScore *float64) float64 {
	score := 0.0
	if communityScore != nil {
		score = *communityScore
	}
	ln := math.Log((score*CommunityScoreModifier+CommunityScoreModifierMin)*float64(downloads) + 1)
	return ln / (1 + ln) * DownloadRankMultiplier
}

// QualityRank is log10(quality + 1) scaled by QualityRankMultiplier.
func QualityRank(qualityScore *float64) float64 {
	q := 0.0
	if qualityScore != nil {
		q = *qualityScore
	}
	return math.Log10(q+1) * QualityRankMultiplier
}

// Rank combines an already normalized search rank with the popularity and
// quality components.
func Rank(searchRank float64, downloads int64, communityScore, qualityScore *float64) Ranks {
	r := Ranks{
		SearchRank:   searchRank,
		DownloadRank: DownloadRank(downloads, communityScore),
		QualityRank:  QualityRank(qualityScore),
	}
	r.Relevance = r.SearchRank + r.DownloadRank + r.QualityRank
	return r
}

// SQL renderings of the same formula. Column references are filled in by
// the engine.
func downloadLnSQL(communityCol, downloadsCol string) string {
	return fmt.Sprintf("ln((coalesce(%s, 0) * %g + %g) * %s + 1)",
		communityCol, CommunityScoreModifier, CommunityScoreModifierMin, downloadsCol)
}

func downloadRankSQL(lnCol string) string {
	return fmt.Sprintf("(%s / (1 + %s) * %g)", lnCol, lnCol, DownloadRankMultiplier)
}

func qualityRankSQL(qualityCol string) string {
	return fmt.Sprintf("(log(coalesce(%s, 0) + 1) * %g)", qualityCol, QualityRankMultiplier)
}

func searchRankSQL(vectorCol, queryPlaceholder string) string {
	return fmt.Sprintf("ts_rank(%s, to_tsquery('simple', %s), %d)", vectorCol, queryPlaceholder, RankNormalization)
}
