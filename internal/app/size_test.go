package app

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "100B", want: 100},
		{in: "1M", want: 256},
		{in: "2G", want: 524288},
		{in: "0B", want: 0},
		{in: "10", wantErr: true},
		{in: "B", wantErr: true},
		{in: "-5M", wantErr: true},
		{in: "5K", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in, 4096)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	if got, want := FormatSize(512, 4096), "512 blocks (2.0 MB)"; got != want {
		t.Errorf("FormatSize() = %q, want %q", got, want)
	}
	if got := Percent(5, 0); got != "-" {
		t.Errorf("Percent(5, 0) = %q, want %q", got, "-")
	}
	if got := Percent(25, 100); got != "25%" {
		t.Errorf("Percent(25, 100) = %q, want %q", got, "25%")
	}
}
