package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/moussaba/dhikr-counter/pinchsense"
)

// WriteEvents exports the detected events of a run as CSV.
func WriteEvents(res *pinchsense.Result, path string) error {
	f, err := createWithDir(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"index", "time_s", "score", "threshold", "acc_peak", "gyro_peak", "confidence"}); err != nil {
		return err
	}
	for _, ev := range res.Events {
		row := []string{
			strconv.Itoa(ev.Index),
			fmtF(ev.Time, 4),
			fmtF(ev.Score, 6),
			fmtF(ev.Threshold, 6),
			fmtF(ev.AccPeak, 6),
			fmtF(ev.GyroPeak, 6),
			fmtF(ev.Confidence, 4),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSeries exports the dense analysis arrays as CSV. Offline results
// include the z components and the high-passed acceleration.
func WriteSeries(res *pinchsense.Result, path string) error {
	f, err := createWithDir(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"time_s", "score", "threshold"}
	withComponents := res.Components != nil
	if withComponents {
		header = append(header, "z_a", "z_g", "z_da", "z_dg", "a_hp")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	t := res.Stream.Time
	for i := range res.Score {
		row := []string{fmtF(t[i], 4), fmtF(res.Score[i], 6), fmtF(res.Threshold[i], 6)}
		if withComponents {
			row = append(row,
				fmtF(res.Components.ZA[i], 6),
				fmtF(res.Components.ZG[i], 6),
				fmtF(res.Components.ZDA[i], 6),
				fmtF(res.Components.ZDG[i], 6),
				fmtF(res.AHP[i], 6),
			)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteResultJSON persists the full reporter contract, rejections included.
func WriteResultJSON(res *pinchsense.Result, path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IOSReading is one sample in the phone app's persisted layout.
type IOSReading struct {
	Timestamp        string     `json:"timestamp"`
	MotionTimestamp  float64    `json:"motionTimestamp"`
	EpochTimestamp   float64    `json:"epochTimestamp"`
	UserAcceleration [3]float64 `json:"userAcceleration"`
	Gravity          [3]float64 `json:"gravity"`
	RotationRate     [3]float64 `json:"rotationRate"`
	Attitude         [4]float64 `json:"attitude"`
	ActivityIndex    float64    `json:"activityIndex"`
	DetectionScore   *float64   `json:"detectionScore"`
	SessionState     string     `json:"sessionState"`
}

// IOSSession is the phone app's PersistedSessionData document.
type IOSSession struct {
	SessionID           string       `json:"sessionId"`
	StartTime           string       `json:"startTime"`
	EndTime             string       `json:"endTime"`
	SessionDuration     float64      `json:"sessionDuration"`
	TotalPinches        int          `json:"totalPinches"`
	DetectedPinches     int          `json:"detectedPinches"`
	ManualCorrections   int          `json:"manualCorrections"`
	Notes               string       `json:"notes"`
	ActualPinchCount    *int         `json:"actualPinchCount"`
	SensorData          []IOSReading `json:"sensorData"`
	DetectionEvents     []any        `json:"detectionEvents"`
	MotionInterruptions *int         `json:"motionInterruptions"`
}

// ConvertForSimulator rereads a session file and reshapes it into the phone
// app's persisted document. Copying the document into a simulator container
// is the caller's business.
func ConvertForSimulator(path string) (*IOSSession, error) {
	meta, readings, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("no sensor data found in %s", path)
	}

	start := time.Unix(0, int64(readings[0].EpochS*1e9)).UTC()
	sensorData := make([]IOSReading, 0, len(readings))
	for _, r := range readings {
		ts := time.Unix(0, int64(r.EpochS*1e9)).UTC()
		sensorData = append(sensorData, IOSReading{
			Timestamp:        ts.Format(time.RFC3339Nano),
			MotionTimestamp:  r.TimeS,
			EpochTimestamp:   r.EpochS,
			UserAcceleration: r.Acc,
			Gravity:          r.Gravity,
			RotationRate:     r.Gyro,
			Attitude:         r.Attitude,
			ActivityIndex:    1.0,
			SessionState:     "activeDhikr",
		})
	}

	duration := meta.Duration
	if duration == 0 && len(readings) > 1 {
		duration = readings[len(readings)-1].TimeS - readings[0].TimeS
	}
	sessionID := meta.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("imported-%d", start.Unix())
	}

	return &IOSSession{
		SessionID:       sessionID,
		StartTime:       start.Format(time.RFC3339Nano),
		EndTime:         start.Add(time.Duration(duration * float64(time.Second))).Format(time.RFC3339Nano),
		SessionDuration: duration,
		Notes:           fmt.Sprintf("Imported session - %d readings", len(sensorData)),
		SensorData:      sensorData,
		DetectionEvents: []any{},
	}, nil
}

// WriteIOSSession persists a converted session document.
func WriteIOSSession(sess *IOSSession, path string) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func createWithDir(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func fmtF(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
