// Package anim writes the node layout of a scenario in the NetAnim XML
// trace format so the run can be inspected in an animator.
package anim

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/topology"
)

// Version is the animator format version written into the trace header.
const Version = "netanim-3.108"

// Layout is the node metadata an exporter renders.
type Layout interface {
	NodeCount() int
	Style(node uint32) (topology.Style, bool)
	Position(node uint32) (topology.Position, bool)
}

type document struct {
	XMLName  xml.Name     `xml:"anim"`
	Version  string       `xml:"ver,attr"`
	FileType string       `xml:"filetype,attr"`
	Topology topologyElem `xml:"topology"`
	Updates  []nodeUpdate `xml:"nu"`
}

type topologyElem struct {
	MinX  float64    `xml:"minX,attr"`
	MinY  float64    `xml:"minY,attr"`
	MaxX  float64    `xml:"maxX,attr"`
	MaxY  float64    `xml:"maxY,attr"`
	Nodes []nodeElem `xml:"node"`
}

type nodeElem struct {
	ID    uint32  `xml:"id,attr"`
	SysID uint32  `xml:"sysId,attr"`
	LocX  float64 `xml:"locX,attr"`
	LocY  float64 `xml:"locY,attr"`
}

// nodeUpdate is a property change of one node: p is "d" (description),
// "s" (size), or "c" (color).
type nodeUpdate struct {
	P     string   `xml:"p,attr"`
	T     float64  `xml:"t,attr"`
	ID    uint32   `xml:"id,attr"`
	Descr string   `xml:"descr,attr,omitempty"`
	W     *float64 `xml:"w,attr,omitempty"`
	H     *float64 `xml:"h,attr,omitempty"`
	R     *uint8   `xml:"r,attr,omitempty"`
	G     *uint8   `xml:"g,attr,omitempty"`
	B     *uint8   `xml:"b,attr,omitempty"`
}

// Exporter writes the layout once, at simulated time zero.
type Exporter struct {
	path string
}

// NewExporter creates an exporter writing to path.
func NewExporter(path string) *Exporter {
	return &Exporter{path: path}
}

// Export writes the layout to the exporter's file.
func (e *Exporter) Export(l Layout) error {
	f, err := os.Create(e.path)
	if err != nil {
		return fmt.Errorf("failed to create animation file %s: %w", e.path, err)
	}
	if err := Write(f, l); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close animation file %s: %w", e.path, err)
	}

	log.WithFields(log.Fields{
		"file":  e.path,
		"nodes": l.NodeCount(),
	}).Info("Animation layout written")
	return nil
}

// Write renders the layout as NetAnim XML.
func Write(w io.Writer, l Layout) error {
	doc := document{
		Version:  Version,
		FileType: "animation",
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	positioned := false

	for i := 0; i < l.NodeCount(); i++ {
		id := uint32(i)
		n := nodeElem{ID: id, SysID: 0}
		if p, ok := l.Position(id); ok {
			n.LocX, n.LocY = p.X, p.Y
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
			positioned = true
		}
		doc.Topology.Nodes = append(doc.Topology.Nodes, n)

		s, ok := l.Style(id)
		if !ok {
			continue
		}
		size := s.Size
		r, g, b := s.R, s.G, s.B
		doc.Updates = append(doc.Updates,
			nodeUpdate{P: "d", ID: id, Descr: s.Label},
			nodeUpdate{P: "s", ID: id, W: &size, H: &size},
			nodeUpdate{P: "c", ID: id, R: &r, G: &g, B: &b},
		)
	}
	if positioned {
		doc.Topology.MinX, doc.Topology.MinY = minX, minY
		doc.Topology.MaxX, doc.Topology.MaxY = maxX, maxY
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write animation header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode animation: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
