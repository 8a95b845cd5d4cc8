package ai

import "testing"

func TestLanguageToken(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", English},
		{"en", English},
		{"de", German},
		{"fr", French},
		{"RU", English + 4},
		{"su", English + 98},
	}
	for _, tt := range tests {
		got, err := LanguageToken(tt.code)
		if err != nil {
			t.Errorf("LanguageToken(%q) error: %v", tt.code, err)
			continue
		}
		if got != tt.want {
			t.Errorf("LanguageToken(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}

	if _, err := LanguageToken("xx"); err == nil {
		t.Error("Expected error for unknown language")
	}
}

func TestSupportedLanguages(t *testing.T) {
	langs := SupportedLanguages()
	if len(langs) != 99 {
		t.Errorf("Expected 99 languages, got %d", len(langs))
	}
	// Последний язык не должен залезать в диапазон задач
	if English+len(langs)-1 >= Translate {
		t.Errorf("Language tokens overlap task tokens")
	}
	langs[0] = "changed"
	if SupportedLanguages()[0] != "en" {
		t.Error("SupportedLanguages must return a copy")
	}
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []int
	}{
		{"default", Options{}, []int{StartOfTranscript, English, Transcribe, NoTimestamps}},
		{"german translate", Options{Language: "de", Task: TaskTranslate}, []int{StartOfTranscript, German, Translate, NoTimestamps}},
		{"timestamps", Options{Language: "fr", Timestamps: true}, []int{StartOfTranscript, French, Transcribe, StartTime}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prefix(tt.opts)
			if err != nil {
				t.Fatalf("Prefix error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Prefix = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Prefix[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := Prefix(Options{Task: "summarize"}); err == nil {
		t.Error("Expected error for unknown task")
	}
}

func TestTokenClasses(t *testing.T) {
	if IsControl(EndOfText-1) || !IsControl(EndOfText) || !IsControl(NoTimestamps) || IsControl(StartTime) {
		t.Error("IsControl boundaries are wrong")
	}
	if IsTimestamp(StartTime-1) || !IsTimestamp(StartTime) || !IsTimestamp(StartTime+1500) {
		t.Error("IsTimestamp boundaries are wrong")
	}
}
