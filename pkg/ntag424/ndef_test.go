package ntag424

import (
	"strings"
	"testing"
)

func TestBuildSDMNDEFOffsetsLocateThePlaceholders(t *testing.T) {
	sdm, err := BuildSDMNDEF("https://example.com/sdm")
	if err != nil {
		t.Fatalf("BuildSDMNDEF: %v", err)
	}

	uidField := string(sdm.NDEF[sdm.UIDOffset : sdm.UIDOffset+sdmUIDLenASCII])
	if uidField != strings.Repeat("0", sdmUIDLenASCII) {
		t.Fatalf("UID placeholder at offset %d = %q, want %d zeros", sdm.UIDOffset, uidField, sdmUIDLenASCII)
	}

	ctrField := string(sdm.NDEF[sdm.CtrOffset : sdm.CtrOffset+sdmCtrLenASCII])
	if ctrField != strings.Repeat("0", sdmCtrLenASCII) {
		t.Fatalf("CTR placeholder at offset %d = %q, want %d zeros", sdm.CtrOffset, ctrField, sdmCtrLenASCII)
	}

	cmacField := string(sdm.NDEF[sdm.CmacOffset : sdm.CmacOffset+sdmCmacLenASCII])
	if cmacField != strings.Repeat("0", sdmCmacLenASCII) {
		t.Fatalf("CMAC placeholder at offset %d = %q, want %d zeros", sdm.CmacOffset, cmacField, sdmCmacLenASCII)
	}

	if sdm.MacInputOffset != sdm.UIDOffset {
		t.Fatalf("MacInputOffset = %d, want to equal UIDOffset %d", sdm.MacInputOffset, sdm.UIDOffset)
	}
	if !(sdm.UIDOffset+sdmUIDLenASCII <= sdm.CtrOffset && sdm.CtrOffset+sdmCtrLenASCII <= sdm.CmacOffset) {
		t.Fatalf("offsets not in strict uid->ctr->cmac order: uid=%d ctr=%d cmac=%d", sdm.UIDOffset, sdm.CtrOffset, sdm.CmacOffset)
	}

	if !strings.HasPrefix(sdm.URL, "https://example.com/sdm?") {
		t.Fatalf("URL = %q, want https://example.com/sdm? prefix", sdm.URL)
	}
}

func TestBuildSDMNDEFRejectsRelativeURL(t *testing.T) {
	if _, err := BuildSDMNDEF("/sdm"); err == nil {
		t.Fatalf("expected error for a relative URL")
	}
}

func TestBuildSDMNDEFPreservesExtraQueryParams(t *testing.T) {
	sdm, err := BuildSDMNDEF("https://example.com/sdm?tagType=NTAG424")
	if err != nil {
		t.Fatalf("BuildSDMNDEF: %v", err)
	}
	if !strings.Contains(sdm.URL, "tagType=NTAG424") {
		t.Fatalf("URL %q lost the extra query parameter", sdm.URL)
	}
}
