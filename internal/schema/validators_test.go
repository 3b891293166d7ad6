package schema

import "testing"

func TestValidateTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"appends Z when missing tz", "2024-01-02T03:04:05", "2024-01-02T03:04:05Z", false},
		{"keeps explicit Z", "2024-01-02T03:04:05Z", "2024-01-02T03:04:05Z", false},
		{"keeps offset", "2024-01-02T03:04:05+02:00", "2024-01-02T03:04:05+02:00", false},
		{"keeps fractional seconds", "2024-01-02T03:04:05.123Z", "2024-01-02T03:04:05.123Z", false},
		{"rejects garbage", "not-a-timestamp", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ValidateTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClampBBox(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   BBox
		want BBox
	}{
		{"already valid", BBox{0.1, 0.2, 0.3, 0.4}, BBox{0.1, 0.2, 0.3, 0.4}},
		{"zero width clamps to minimum", BBox{0, 0, 0, 0.5}, BBox{0, 0, minBBoxDimension, 0.5}},
		{"over one clamps to one", BBox{1.5, -0.5, 1.2, 2}, BBox{1, 0, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClampBBox(tt.in)
			if got != tt.want {
				t.Errorf("ClampBBox(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateYear(t *testing.T) {
	t.Parallel()

	if err := ValidateYear(2024); err != nil {
		t.Errorf("ValidateYear(2024) = %v, want nil", err)
	}
	if err := ValidateYear(1969); err == nil {
		t.Errorf("ValidateYear(1969) = nil, want error")
	}
	if err := ValidateYear(2101); err == nil {
		t.Errorf("ValidateYear(2101) = nil, want error")
	}
}

func TestNormalizeContributorRole(t *testing.T) {
	t.Parallel()

	if got := NormalizeContributorRole("data_manager"); got != "data_manager" {
		t.Errorf("got %q, want data_manager", got)
	}
	if got := NormalizeContributorRole("author"); got != RoleContributor {
		t.Errorf("got %q, want %q", got, RoleContributor)
	}
}

func TestValidateContributors(t *testing.T) {
	t.Parallel()

	out, err := ValidateContributors(`[{"name":"A","role":"author"},{"name":"B","role":"principal_investigator"}]`)
	if err != nil {
		t.Fatalf("ValidateContributors: %v", err)
	}
	if out == "" {
		t.Fatalf("expected non-empty normalized contributors")
	}

	if _, err := ValidateContributors(`not json`); err == nil {
		t.Errorf("expected error for malformed contributors JSON")
	}
}
