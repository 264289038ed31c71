package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/medical-examination-assistant/internal/domain"
)

// FieldDifferenceThreshold is the score under which a SOAP field is reported as different
const FieldDifferenceThreshold = 70

// Weights of the overall match score
const (
	weightSubjective = 0.15
	weightObjective  = 0.15
	weightAssessment = 0.30
	weightPlan       = 0.15
	weightICD        = 0.25
)

// MatchingEngine scores an AI draft against the physician's final entry
type MatchingEngine struct{}

// NewMatchingEngine creates a matching engine
func NewMatchingEngine() *MatchingEngine {
	return &MatchingEngine{}
}

// Compare returns the field scores, ICD overlap, overall score and difference findings
func (m *MatchingEngine) Compare(ai domain.AIResults, doctor domain.DoctorResults) domain.ComparisonResult {
	soap := domain.SOAPMatch{
		Subjective: FieldSimilarity(ai.SOAP.Subjective, doctor.SOAP.Subjective),
		Objective:  FieldSimilarity(ai.SOAP.Objective, doctor.SOAP.Objective),
		Assessment: FieldSimilarity(ai.SOAP.Assessment, doctor.SOAP.Assessment),
		Plan:       FieldSimilarity(ai.SOAP.Plan, doctor.SOAP.Plan),
	}

	aiCodes := NormalizeICDCodes(ai.ICDCodes)
	doctorCodes := NormalizeICDCodes(doctor.ICDCodes)
	icd, icdScore := matchICD(aiCodes, doctorCodes)

	overall := weightSubjective*float64(soap.Subjective) +
		weightObjective*float64(soap.Objective) +
		weightAssessment*float64(soap.Assessment) +
		weightPlan*float64(soap.Plan) +
		weightICD*icdScore

	return domain.ComparisonResult{
		MatchScore:  clampScore(int(math.Round(overall))),
		SOAPMatch:   soap,
		ICDMatch:    icd,
		Differences: differences(soap, icd, aiCodes, doctorCodes),
	}
}

// ParseICDList splits a comma-separated code string as typed by physicians
func ParseICDList(s string) []string {
	var codes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			codes = append(codes, part)
		}
	}
	return codes
}

// NormalizeICDCode reduces "J06.9 - Viêm họng cấp" to "J06.9"
func NormalizeICDCode(code string) string {
	if i := strings.Index(code, " - "); i >= 0 {
		code = code[:i]
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeICDCodes normalizes every code, keeping first-seen order and dropping empties and repeats
func NormalizeICDCodes(codes []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range codes {
		c = NormalizeICDCode(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// FieldSimilarity scores two free-text fields from 0 to 100
func FieldSimilarity(a, b string) int {
	na, nb := normalizeText(a), normalizeText(b)
	switch {
	case na == "" && nb == "":
		return 100
	case na == "" || nb == "":
		return 0
	}

	dice := tokenDice(strings.Fields(na), strings.Fields(nb))
	jw := matchr.JaroWinkler(na, nb, false)
	return clampScore(int(math.Round(100 * (0.5*dice + 0.5*jw))))
}

// normalizeText folds accents and case, and collapses punctuation and whitespace
func normalizeText(s string) string {
	folded := domain.Fold(s)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(cleaned), " ")
}

func tokenDice(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA)+len(setB) == 0 {
		return 1
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// matchICD splits the code lists and scores their overlap.
// Codes sharing only the 3-character category count as half a match.
func matchICD(ai, doctor []string) (domain.ICDMatch, float64) {
	match := domain.ICDMatch{
		ExactMatches: []string{},
		AIOnly:       []string{},
		DoctorOnly:   []string{},
	}
	if len(ai)+len(doctor) == 0 {
		return match, 100
	}

	doctorSet := toSet(doctor)
	aiSet := toSet(ai)
	for _, c := range ai {
		if doctorSet[c] {
			match.ExactMatches = append(match.ExactMatches, c)
		} else {
			match.AIOnly = append(match.AIOnly, c)
		}
	}
	for _, c := range doctor {
		if !aiSet[c] {
			match.DoctorOnly = append(match.DoctorOnly, c)
		}
	}
	sort.Strings(match.ExactMatches)
	sort.Strings(match.AIOnly)
	sort.Strings(match.DoctorOnly)

	partial := 0
	used := make([]bool, len(match.DoctorOnly))
	for _, a := range match.AIOnly {
		for i, d := range match.DoctorOnly {
			if !used[i] && sameCategory(a, d) {
				used[i] = true
				partial++
				break
			}
		}
	}

	matched := 2*float64(len(match.ExactMatches)) + float64(partial)
	return match, 100 * matched / float64(len(ai)+len(doctor))
}

func sameCategory(a, b string) bool {
	return len(a) >= 3 && len(b) >= 3 && a[:3] == b[:3]
}

var soapLabels = [4]string{"Chủ quan (S)", "Khách quan (O)", "Đánh giá (A)", "Kế hoạch (P)"}

func differences(soap domain.SOAPMatch, icd domain.ICDMatch, aiCodes, doctorCodes []string) []string {
	diffs := []string{}

	scores := [4]int{soap.Subjective, soap.Objective, soap.Assessment, soap.Plan}
	for i, score := range scores {
		if score < FieldDifferenceThreshold {
			diffs = append(diffs, fmt.Sprintf("%s khác biệt đáng kể (độ tương đồng %d%%)", soapLabels[i], score))
		}
	}

	if len(icd.AIOnly) > 0 {
		diffs = append(diffs, "Mã ICD do AI đề xuất nhưng bác sĩ không chọn: "+strings.Join(icd.AIOnly, ", "))
	}
	if len(icd.DoctorOnly) > 0 {
		diffs = append(diffs, "Mã ICD bác sĩ bổ sung: "+strings.Join(icd.DoctorOnly, ", "))
	}
	if len(aiCodes) > 0 && len(doctorCodes) > 0 && aiCodes[0] != doctorCodes[0] {
		diffs = append(diffs, fmt.Sprintf("Chẩn đoán chính khác nhau: AI %s, bác sĩ %s", aiCodes[0], doctorCodes[0]))
	}
	return diffs
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
