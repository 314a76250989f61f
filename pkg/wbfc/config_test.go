// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wbfc

import (
	"testing"
	"time"

	yaml "gopkg.in/yaml.v2"
)

func TestParseReadableSize(t *testing.T) {
	cases := []struct {
		in   string
		want ReadableSize
	}{
		{"5GB", 5 * gb},
		{"512KB", 512 * kb},
		{"1.5MB", ReadableSize(1.5 * float64(mb))},
		{"100B", 100},
		{"1024", 1024},
	}
	for _, c := range cases {
		got, err := ParseReadableSize(c.in)
		if err != nil {
			t.Fatalf("ParseReadableSize(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseReadableSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseReadableSizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "banana", "-5MB"} {
		if _, err := ParseReadableSize(in); err == nil {
			t.Fatalf("ParseReadableSize(%q): expected error, got none", in)
		}
	}
}

func TestConfigUnmarshalYAML(t *testing.T) {
	doc := `
total-limit: 5GB
soft-limit: 2GB
flush-threshold: 1MB
evict-life-time: 30m
max-flush-batch: 8
check-interval: 10s
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Fatalf("parsed config %+v does not match default %+v", cfg, want)
	}
}

func TestConfigValidate(t *testing.T) {
	ok := DefaultConfig()
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}

	bad := ok
	bad.SoftLimit = bad.TotalLimit + 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected soft-limit > total-limit to be rejected")
	}

	bad = ok
	bad.MaxFlushBatch = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected max-flush-batch <= 0 to be rejected")
	}

	bad = ok
	bad.CheckInterval = ReadableDuration(0)
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected non-positive check-interval to be rejected")
	}
}

func TestReadableDurationString(t *testing.T) {
	d := ReadableDuration(90 * time.Second)
	if d.Duration() != 90*time.Second {
		t.Fatalf("Duration() roundtrip failed: %v", d.Duration())
	}
	if d.String() != "1m30s" {
		t.Fatalf("String() = %q, want %q", d.String(), "1m30s")
	}
}
