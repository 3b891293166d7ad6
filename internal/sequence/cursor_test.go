package sequence

import "testing"

func TestDecodeCursorEmptyIsStart(t *testing.T) {
	t.Parallel()
	c := decodeCursor("")
	if c.Phase != phaseTimestamped || c.T != "" {
		t.Errorf("empty cursor = %+v, want start of phase one", c)
	}
}

func TestEncodeDecodeCursorRoundtrips(t *testing.T) {
	t.Parallel()
	orig := cursor{V: cursorVersion, Phase: phaseTimestamped, T: "2024-01-01T00:00:00Z", M: "med1"}
	encoded := encodeCursor(orig)
	if encoded == "" {
		t.Fatal("encodeCursor returned empty string")
	}
	decoded := decodeCursor(encoded)
	if decoded != orig {
		t.Errorf("decodeCursor(encodeCursor(c)) = %+v, want %+v", decoded, orig)
	}
}

func TestDecodeCursorMalformedResetsToStart(t *testing.T) {
	t.Parallel()
	c := decodeCursor("not-valid-base64!!!")
	if c.Phase != phaseTimestamped || c.T != "" {
		t.Errorf("malformed cursor = %+v, want reset to start", c)
	}
}

func TestDecodeCursorUnknownVersionResetsToStart(t *testing.T) {
	t.Parallel()
	bad := cursor{V: 99, Phase: phaseTimestamped}
	encoded := encodeCursor(bad)
	c := decodeCursor(encoded)
	if c.V != cursorVersion || c.T != "" {
		t.Errorf("unknown-version cursor = %+v, want reset to start", c)
	}
}
