package diagnosis

import (
	"testing"
	"time"
)

func TestSpeedRushClassifier(t *testing.T) {
	tests := []struct {
		name    string
		perItem time.Duration
		want    Category
	}{
		{"under threshold", 1500 * time.Millisecond, CategorySpeedRush},
		{"at threshold", 2 * time.Second, ""},
		{"over threshold", 3 * time.Second, ""},
		{"unknown time", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, conf := (&SpeedRushClassifier{}).Classify(&Input{Given: "4", PerItem: tt.perItem})
			if cat != tt.want {
				t.Errorf("got category %q, want %q", cat, tt.want)
			}
			if tt.want != "" && conf != 0.9 {
				t.Errorf("got confidence %f, want 0.9", conf)
			}
		})
	}
}

func TestCarelessClassifier(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		want     Category
		wantConf float64
	}{
		{"rest of quiz right", Input{OtherAccuracy: 1}, CategoryCareless, 0.8},
		{"earlier peak", Input{OtherAccuracy: -1, Peak: 0.9}, CategoryCareless, 0.6},
		{"at threshold", Input{OtherAccuracy: 0.8, Peak: 0.8}, "", 0},
		{"weak learner", Input{OtherAccuracy: 0.5, Peak: 0.4}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, conf := (&CarelessClassifier{}).Classify(&tt.in)
			if cat != tt.want || conf != tt.wantConf {
				t.Errorf("got (%q, %v), want (%q, %v)", cat, conf, tt.want, tt.wantConf)
			}
		})
	}
}

func TestSkippedClassifier(t *testing.T) {
	for _, given := range []string{"", "   "} {
		if cat, _ := (&SkippedClassifier{}).Classify(&Input{Given: given}); cat != CategorySkipped {
			t.Errorf("Given %q: got %q, want skipped", given, cat)
		}
	}
	if cat, _ := (&SkippedClassifier{}).Classify(&Input{Given: "7"}); cat != "" {
		t.Errorf("got %q for an answered item", cat)
	}
}

func TestRun_Priority(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Category
		by   string
	}{
		{"blank beats speed", Input{Given: "", PerItem: time.Second}, CategorySkipped, "skipped"},
		{"speed beats careless", Input{Given: "4", PerItem: time.Second, OtherAccuracy: 1}, CategorySpeedRush, "speed-rush"},
		{"careless when slow", Input{Given: "4", PerItem: 5 * time.Second, OtherAccuracy: 1}, CategoryCareless, "careless"},
		{"no match", Input{Given: "4", PerItem: 5 * time.Second, OtherAccuracy: 0}, CategoryUnclassified, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.Category != tt.want || got.Classifier != tt.by {
				t.Errorf("got %+v, want %s by %s", got, tt.want, tt.by)
			}
		})
	}
}

func TestDefaultClassifiers_Order(t *testing.T) {
	want := []string{"skipped", "speed-rush", "careless"}
	got := DefaultClassifiers()
	if len(got) != len(want) {
		t.Fatalf("got %d classifiers, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.Name() != want[i] {
			t.Errorf("classifier %d is %q, want %q", i, c.Name(), want[i])
		}
	}
}
