package constants

import (
	"strconv"
	"strings"
)

// SurveyType is the numeric survey type id understood by the survey API.
type SurveyType int

const (
	SurveyTypeDomestic SurveyType = 1
	SurveyTypeForeign  SurveyType = 2
)

var surveyTypeNames = map[SurveyType]string{
	SurveyTypeDomestic: "Domestic",
	SurveyTypeForeign:  "Foreign",
}

var allSurveyTypes = []SurveyType{SurveyTypeDomestic, SurveyTypeForeign}

func (t SurveyType) String() string {
	if name, ok := surveyTypeNames[t]; ok {
		return name
	}
	return "SurveyType(" + strconv.Itoa(int(t)) + ")"
}

// SurveyTypeNames returns the recognised labels in enum order.
func SurveyTypeNames() []string {
	out := make([]string, len(allSurveyTypes))
	for i, t := range allSurveyTypes {
		out[i] = surveyTypeNames[t]
	}
	return out
}

// ParseSurveyType matches a document label against the known survey types.
// Matching ignores case and surrounding whitespace; a numeric label is accepted
// when it names a known member.
func ParseSurveyType(label string) (SurveyType, bool) {
	normalized := strings.TrimSpace(label)
	if normalized == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(normalized); err == nil {
		t := SurveyType(n)
		_, ok := surveyTypeNames[t]
		return t, ok
	}

	for _, t := range allSurveyTypes {
		if strings.EqualFold(normalized, surveyTypeNames[t]) {
			return t, true
		}
	}
	return 0, false
}
