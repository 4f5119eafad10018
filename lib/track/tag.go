// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tag returns the duplicate-group tag for a track: the hex SHA-256 of
// the normalized title and the normalized primary artist joined by "-".
// Remixes, edits, and re-releases normalize to the same title and so
// share a tag.
func Tag(info Info) (string, error) {
	if len(info.Artists) == 0 {
		return "", errors.New("track has no artists")
	}
	sum := sha256.Sum256([]byte(NormalizeTitle(info.Name) + "-" + primaryArtist(info.Artists)))
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeTitle cuts a title at the first "(", "-", or "[", then
// decomposes it and keeps only ASCII letters and digits, lowercased.
// "Sun & Moon (Above & Beyond Club Mix)" and "Sun & Moon - Radio Edit"
// both normalize to "sunmoon".
func NormalizeTitle(title string) string {
	if cut := strings.IndexAny(title, "(-["); cut >= 0 {
		title = title[:cut]
	}
	decomposed := norm.NFD.String(strings.TrimSpace(title))

	var builder strings.Builder
	builder.Grow(len(decomposed))
	for i := 0; i < len(decomposed); i++ {
		c := decomposed[i]
		switch {
		case 'a' <= c && c <= 'z', '0' <= c && c <= '9':
			builder.WriteByte(c)
		case 'A' <= c && c <= 'Z':
			builder.WriteByte(c + ('a' - 'A'))
		}
	}
	return builder.String()
}

// The duo is credited under several spellings. Only multi-artist
// credits are folded into Signum.
func primaryArtist(artists []Artist) string {
	primary := NormalizeTitle(artists[0].Name)
	if len(artists) < 2 {
		return primary
	}
	secondary := NormalizeTitle(artists[1].Name)
	switch {
	case primary == "ronhagen" && secondary == "pascalm",
		primary == "pascalm" && secondary == "ronhagen",
		primary == "ronhagenpascalm",
		primary == "pascalmronhagen":
		return "signum"
	}
	return primary
}
