package pipeline

import "testing"

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{
		StatusResearchComplete, StatusResearchFailed, StatusResearchCancelled,
		StatusLegalResolutionComplete, StatusLegalResolutionFailed, StatusLegalResolutionCancelled,
		StatusDataExtractionComplete, StatusDataExtractionFailed, StatusDataExtractionCancelled,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []Status{
		StatusPending,
		StatusResearchRunning, StatusLegalResolutionRunning, StatusDataExtractionRunning,
	}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	if Status("garbage").Terminal() {
		t.Error("unknown status should not be terminal")
	}
}

func TestStatusStage(t *testing.T) {
	cases := map[Status]string{
		StatusPending:                 "",
		StatusResearchRunning:         "research",
		StatusLegalResolutionFailed:   "legal_resolution",
		StatusDataExtractionComplete:  "data_extraction",
		StatusDataExtractionCancelled: "data_extraction",
	}
	for s, want := range cases {
		if got := s.Stage(); got != want {
			t.Errorf("%s.Stage() = %q, want %q", s, got, want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusResearchRunning.Running() || StatusResearchComplete.Running() {
		t.Error("Running misclassified")
	}
	if !StatusLegalResolutionFailed.Failed() || StatusLegalResolutionComplete.Failed() {
		t.Error("Failed misclassified")
	}
	if !StatusDataExtractionCancelled.Cancelled() || StatusDataExtractionFailed.Cancelled() {
		t.Error("Cancelled misclassified")
	}
	if !StatusPending.Valid() || Status("nope").Valid() {
		t.Error("Valid misclassified")
	}
}
