// Package session loads recorded wrist sensor sessions into the detector
// data model and exports analysis results.
package session

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/moussaba/dhikr-counter/pinchsense"
)

// Default CSV column names, matching the watch logger output.
var defaultColumns = map[string]string{
	"time":           "time_s",
	"epoch":          "epoch_s",
	"acceleration_x": "userAccelerationX",
	"acceleration_y": "userAccelerationY",
	"acceleration_z": "userAccelerationZ",
	"rotation_x":     "rotationRateX",
	"rotation_y":     "rotationRateY",
	"rotation_z":     "rotationRateZ",
	"gravity_x":      "gravityX",
	"gravity_y":      "gravityY",
	"gravity_z":      "gravityZ",
}

const expectedFS = 100.0

// rawReading is one parsed sample with every optional channel retained.
// Gravity and attitude are ignored by the detectors but preserved for the
// simulator converter.
type rawReading struct {
	TimeS    float64
	EpochS   float64
	Acc      [3]float64
	Gyro     [3]float64
	Gravity  [3]float64
	Attitude [4]float64
}

// jsonSession mirrors the watch JSON export.
type jsonSession struct {
	Metadata   jsonMetadata  `json:"metadata"`
	SensorData []jsonReading `json:"sensorData"`
}

type jsonMetadata struct {
	SessionID     string  `json:"sessionId"`
	StartTime     string  `json:"startTime"`
	Duration      float64 `json:"duration"`
	TotalReadings int     `json:"totalReadings"`
}

type jsonReading struct {
	TimeS            float64 `json:"time_s"`
	EpochS           float64 `json:"epoch_s"`
	UserAcceleration vec3    `json:"userAcceleration"`
	RotationRate     vec3    `json:"rotationRate"`
	Gravity          vec3    `json:"gravity"`
	Attitude         quat    `json:"attitude"`
}

type vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Load reads a CSV or JSON session file and builds the detector stream.
// Warnings (rate drift, time gaps) flow through cfg.Warn.
func Load(path string, cfg pinchsense.Config) (*pinchsense.SensorStream, error) {
	meta, readings, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("no sensor data found in %s", path)
	}
	return buildStream(path, meta, readings, cfg)
}

// parseFile dispatches on the file extension.
func parseFile(path string) (pinchsense.SessionMetadata, []rawReading, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(path)
	case ".csv":
		return parseCSV(path)
	default:
		return pinchsense.SessionMetadata{}, nil, fmt.Errorf("unsupported session format %q", filepath.Ext(path))
	}
}

func parseJSON(path string) (pinchsense.SessionMetadata, []rawReading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pinchsense.SessionMetadata{}, nil, err
	}
	var doc jsonSession
	if err := json.Unmarshal(data, &doc); err != nil {
		return pinchsense.SessionMetadata{}, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	meta := pinchsense.SessionMetadata{
		SessionID:     doc.Metadata.SessionID,
		Duration:      doc.Metadata.Duration,
		TotalReadings: doc.Metadata.TotalReadings,
	}
	readings := make([]rawReading, 0, len(doc.SensorData))
	for _, r := range doc.SensorData {
		readings = append(readings, rawReading{
			TimeS:    r.TimeS,
			EpochS:   r.EpochS,
			Acc:      [3]float64{r.UserAcceleration.X, r.UserAcceleration.Y, r.UserAcceleration.Z},
			Gyro:     [3]float64{r.RotationRate.X, r.RotationRate.Y, r.RotationRate.Z},
			Gravity:  [3]float64{r.Gravity.X, r.Gravity.Y, r.Gravity.Z},
			Attitude: [4]float64{r.Attitude.W, r.Attitude.X, r.Attitude.Y, r.Attitude.Z},
		})
	}
	return meta, readings, nil
}

func parseCSV(path string) (pinchsense.SessionMetadata, []rawReading, error) {
	meta, err := csvMetadata(path)
	if err != nil {
		return meta, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return meta, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return meta, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) < 2 {
		return meta, nil, fmt.Errorf("no sensor data found in %s", path)
	}

	header := rows[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	required := []string{"time", "acceleration_x", "acceleration_y", "acceleration_z", "rotation_x", "rotation_y", "rotation_z"}
	var missing []string
	for _, role := range required {
		if _, ok := col[defaultColumns[role]]; !ok {
			missing = append(missing, defaultColumns[role])
		}
	}
	if len(missing) > 0 {
		return meta, nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	get := func(row []string, role string) float64 {
		idx, ok := col[defaultColumns[role]]
		if !ok || idx >= len(row) {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}

	readings := make([]rawReading, 0, len(rows)-1)
	for _, row := range rows[1:] {
		readings = append(readings, rawReading{
			TimeS:   get(row, "time"),
			EpochS:  get(row, "epoch"),
			Acc:     [3]float64{get(row, "acceleration_x"), get(row, "acceleration_y"), get(row, "acceleration_z")},
			Gyro:    [3]float64{get(row, "rotation_x"), get(row, "rotation_y"), get(row, "rotation_z")},
			Gravity: [3]float64{get(row, "gravity_x"), get(row, "gravity_y"), get(row, "gravity_z")},
		})
	}
	return meta, readings, nil
}

// csvMetadata scans leading comment lines for session provenance.
func csvMetadata(path string) (pinchsense.SessionMetadata, error) {
	var meta pinchsense.SessionMetadata
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		switch {
		case strings.Contains(line, "Session ID:"):
			meta.SessionID = strings.TrimSpace(strings.SplitN(line, "Session ID:", 2)[1])
		case strings.Contains(line, "Duration:"):
			s := strings.TrimSpace(strings.SplitN(line, "Duration:", 2)[1])
			s = strings.TrimSuffix(s, "s")
			if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				meta.Duration = v
			}
		case strings.Contains(line, "Total Readings:"):
			s := strings.TrimSpace(strings.SplitN(line, "Total Readings:", 2)[1])
			if v, err := strconv.Atoi(s); err == nil {
				meta.TotalReadings = v
			}
		}
	}
	return meta, sc.Err()
}

// buildStream derives magnitudes and the sample rate, normalizes absolute
// clocks, and enforces the stream invariants.
func buildStream(path string, meta pinchsense.SessionMetadata, readings []rawReading, cfg pinchsense.Config) (*pinchsense.SensorStream, error) {
	n := len(readings)
	s := &pinchsense.SensorStream{
		Time:     make([]float64, n),
		AccXYZ:   make([][3]float64, n),
		GyroXYZ:  make([][3]float64, n),
		Filepath: path,
		Metadata: meta,
	}
	for i, r := range readings {
		s.Time[i] = r.TimeS
		s.AccXYZ[i] = r.Acc
		s.GyroXYZ[i] = r.Gyro
	}

	// Absolute epoch clocks are shifted to start at zero.
	if s.Time[0] > 1000 {
		t0 := s.Time[0]
		for i := range s.Time {
			s.Time[i] -= t0
		}
	}

	s.AccMag = pinchsense.Magnitude(s.AccXYZ)
	s.GyroMag = pinchsense.Magnitude(s.GyroXYZ)
	s.FS = estimateRate(s.Time)

	warn := cfg.Warn
	if warn != nil && math.Abs(s.FS-expectedFS) > 10 {
		warn("sampling rate %.1f Hz differs from expected %.1f Hz", s.FS, expectedFS)
	}
	if warn != nil && cfg.Analysis.MaxGapS > 0 {
		gaps, maxGap := countGaps(s.Time, cfg.Analysis.MaxGapS)
		if gaps > 0 {
			warn("found %d time gaps > %.2fs (max: %.3fs)", gaps, cfg.Analysis.MaxGapS, maxGap)
		}
	}

	if err := s.Validate(cfg.Analysis.MinDurationS); err != nil {
		return nil, err
	}
	return s, nil
}

// estimateRate derives the sample rate from the median timestamp delta,
// falling back to 100 Hz for degenerate clocks.
func estimateRate(t []float64) float64 {
	if len(t) < 2 {
		return expectedFS
	}
	diffs := make([]float64, len(t)-1)
	for i := 1; i < len(t); i++ {
		diffs[i-1] = t[i] - t[i-1]
	}
	sort.Float64s(diffs)
	var dt float64
	m := len(diffs)
	if m%2 == 1 {
		dt = diffs[m/2]
	} else {
		dt = 0.5 * (diffs[m/2-1] + diffs[m/2])
	}
	if dt <= 0 {
		return expectedFS
	}
	return 1.0 / dt
}

func countGaps(t []float64, maxGap float64) (count int, largest float64) {
	for i := 1; i < len(t); i++ {
		d := t[i] - t[i-1]
		if d > maxGap {
			count++
			if d > largest {
				largest = d
			}
		}
	}
	return count, largest
}
