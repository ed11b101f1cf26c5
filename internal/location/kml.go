package location

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mtlchat/corechat/internal/corerr"
)

// maxKMLSize bounds how much of a parsed document is read, per spec.md
// §4.6's "accept only documents ≤ 1 MiB" rule.
const maxKMLSize = 1 << 20

const kmlTimeLayout = "2006-01-02T15:04:05Z"

// SerializeKML renders locs (already windowed and deduplicated by
// ListForKML) as the outbound KML document spec.md §4.6 describes:
// addr attribute on the document element, one Placemark per position,
// coordinates in lon,lat order.
func SerializeKML(addr string, locs []*Location) string {
	if len(locs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<kml xmlns="http://www.opengis.net/kml/2.2"><Document addr=%q>`, addr)
	b.WriteByte('\n')
	for _, l := range locs {
		when := time.Unix(l.Timestamp, 0).UTC().Format(kmlTimeLayout)
		b.WriteString("<Placemark>")
		fmt.Fprintf(&b, "<Timestamp><when>%s</when></Timestamp>", when)
		fmt.Fprintf(&b, `<Point><coordinates accuracy=%q>%s,%s</coordinates></Point>`,
			strconv.FormatFloat(l.Accuracy, 'f', -1, 64),
			strconv.FormatFloat(l.Longitude, 'f', -1, 64),
			strconv.FormatFloat(l.Latitude, 'f', -1, 64))
		b.WriteString("</Placemark>\n")
	}
	b.WriteString("</Document></kml>")
	return b.String()
}

// ParsedKML is one committed Placemark from ParseKML.
type ParsedKML struct {
	Addr      string
	Locations []Location
}

// ParseKML permissively walks a KML document SAX-style, per spec.md
// §4.6: documents over 1 MiB are rejected; a Placemark commits only once
// it has a non-zero timestamp and non-zero lat/lon; a malformed or
// future Timestamp is clamped to now rather than rejecting the whole
// document.
func ParseKML(r io.Reader) (*ParsedKML, error) {
	limited := io.LimitReader(r, maxKMLSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	if len(data) > maxKMLSize {
		return nil, fmt.Errorf("%w: kml document exceeds 1 MiB", corerr.ErrDecode)
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	out := &ParsedKML{}

	var inPlacemark bool
	var cur Location
	var textBuf strings.Builder
	var inWhen, inCoordinates bool

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", corerr.ErrDecode, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Document":
				for _, a := range t.Attr {
					if a.Name.Local == "addr" {
						out.Addr = a.Value
					}
				}
			case "Placemark":
				inPlacemark = true
				cur = Location{}
			case "when":
				inWhen = true
				textBuf.Reset()
			case "coordinates":
				inCoordinates = true
				textBuf.Reset()
				for _, a := range t.Attr {
					if a.Name.Local == "accuracy" {
						if acc, err := strconv.ParseFloat(a.Value, 64); err == nil {
							cur.Accuracy = acc
						}
					}
				}
			}
		case xml.CharData:
			if inWhen || inCoordinates {
				textBuf.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "when":
				cur.Timestamp = parseKMLTimestamp(textBuf.String())
				inWhen = false
			case "coordinates":
				parseKMLCoordinates(textBuf.String(), &cur)
				inCoordinates = false
			case "Placemark":
				if inPlacemark && cur.Timestamp != 0 && cur.Latitude != 0 && cur.Longitude != 0 {
					out.Locations = append(out.Locations, cur)
				}
				inPlacemark = false
			}
		}
	}

	return out, nil
}

// parseKMLTimestamp parses the when element's text, falling back to the
// current time on malformed input and clamping any future timestamp to
// now, per spec.md §4.6.
func parseKMLTimestamp(s string) int64 {
	now := time.Now().Unix()
	t, err := time.Parse(kmlTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return now
	}
	ts := t.Unix()
	if ts > now {
		return now
	}
	return ts
}

// parseKMLCoordinates parses a "lon,lat[,alt]" triple into cur.
func parseKMLCoordinates(s string, cur *Location) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 {
		return
	}
	if lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil {
		cur.Longitude = lon
	}
	if lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
		cur.Latitude = lat
	}
}
