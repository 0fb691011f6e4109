// Command dhikr-counter detects finger-pinch micro-gestures in wrist IMU
// sessions, either offline over a recorded file or live over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/moussaba/dhikr-counter/live"
	"github.com/moussaba/dhikr-counter/pinchsense"
	"github.com/moussaba/dhikr-counter/report"
	"github.com/moussaba/dhikr-counter/session"
)

type options struct {
	input         string
	detector      string
	configPath    string
	outDir        string
	rejections    bool
	debugThresh   bool
	templates     string
	saveTemplates string
	calibration   string
	convertIOS    string

	kMad               float64
	accGate            float64
	gyroGate           float64
	minIntervalS       float64
	decisionLatencyS   float64
	templateConfidence float64
	fusionMethod       string

	liveMode    bool
	mqttBroker  string
	mqttPort    int
	sampleTopic string
	eventTopic  string
	httpAddr    string
	verbose     bool
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("analysis failed")
		os.Exit(1)
	}
}

func run() error {
	var o options
	pflag.StringVarP(&o.input, "input", "i", "", "session file (.csv or .json)")
	pflag.StringVarP(&o.detector, "detector", "d", pinchsense.DetectorStationary, "detector type: stationary, streaming or two-stage")
	pflag.StringVarP(&o.configPath, "config", "c", "", "YAML config file merged over defaults")
	pflag.StringVarP(&o.outDir, "out", "o", "analysis", "output directory")
	pflag.BoolVar(&o.rejections, "collect-rejections", false, "keep rejected candidates for tuning (stationary)")
	pflag.BoolVar(&o.debugThresh, "debug-threshold", false, "explain peaks that stayed under the threshold (stationary)")
	pflag.StringVar(&o.templates, "templates", "", "template bundle to load (two-stage)")
	pflag.StringVar(&o.saveTemplates, "save-templates", "", "write the learned template bundle here (two-stage)")
	pflag.StringVar(&o.calibration, "calibration-events", "", "comma-separated sample indices of known pinches (two-stage)")
	pflag.StringVar(&o.convertIOS, "convert-ios", "", "convert the session for the phone simulator and write it here")

	pflag.Float64Var(&o.kMad, "k-mad", 0, "override stationary k_mad")
	pflag.Float64Var(&o.accGate, "acc-gate", 0, "override stationary acc_gate")
	pflag.Float64Var(&o.gyroGate, "gyro-gate", 0, "override stationary gyro_gate")
	pflag.Float64Var(&o.minIntervalS, "min-interval", 0, "override streaming min_interval_s")
	pflag.Float64Var(&o.decisionLatencyS, "decision-latency", 0, "override streaming decision_latency_s")
	pflag.Float64Var(&o.templateConfidence, "template-confidence", 0, "override two-stage template_confidence")
	pflag.StringVar(&o.fusionMethod, "fusion-method", "", "override two-stage fusion_method")

	pflag.BoolVar(&o.liveMode, "live", false, "run the streaming detector against an MQTT feed")
	pflag.StringVar(&o.mqttBroker, "mqtt-broker", "localhost", "MQTT broker host")
	pflag.IntVar(&o.mqttPort, "mqtt-port", 1883, "MQTT broker port")
	pflag.StringVar(&o.sampleTopic, "sample-topic", "watch/+/imu", "MQTT sample topic")
	pflag.StringVar(&o.eventTopic, "event-topic", "pinch/events", "MQTT event topic")
	pflag.StringVar(&o.httpAddr, "http-addr", ":8089", "live status/websocket listen address")
	pflag.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	pflag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if o.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := pinchsense.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	cfg.Warn = func(format string, args ...interface{}) {
		log.Warn().Msgf(format, args...)
	}
	applyOverrides(&cfg, &o)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if o.liveMode {
		return runLive(&o, cfg)
	}
	if o.input == "" {
		pflag.Usage()
		return fmt.Errorf("an input session file is required")
	}
	if o.convertIOS != "" {
		return runConvert(&o)
	}
	return runAnalysis(&o, cfg)
}

func applyOverrides(cfg *pinchsense.Config, o *options) {
	if o.kMad > 0 {
		cfg.Stationary.KMad = o.kMad
	}
	if o.accGate > 0 {
		cfg.Stationary.AccGate = o.accGate
	}
	if o.gyroGate > 0 {
		cfg.Stationary.GyroGate = o.gyroGate
	}
	if o.minIntervalS > 0 {
		cfg.Streaming.MinIntervalS = o.minIntervalS
	}
	if o.decisionLatencyS > 0 {
		cfg.Streaming.DecisionLatencyS = o.decisionLatencyS
	}
	if o.templateConfidence > 0 {
		cfg.TwoStage.TemplateConfidence = o.templateConfidence
	}
	if o.fusionMethod != "" {
		cfg.TwoStage.FusionMethod = o.fusionMethod
	}
}

func runConvert(o *options) error {
	sess, err := session.ConvertForSimulator(o.input)
	if err != nil {
		return err
	}
	if err := session.WriteIOSSession(sess, o.convertIOS); err != nil {
		return err
	}
	log.Info().Str("path", o.convertIOS).Int("readings", len(sess.SensorData)).Msg("session converted")
	return nil
}

func runAnalysis(o *options, cfg pinchsense.Config) error {
	stream, err := session.Load(o.input, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Int("samples", stream.Len()).
		Float64("fs", stream.FS).
		Float64("duration_s", stream.Duration()).
		Msg("session loaded")

	opts := pinchsense.RunOptions{
		CollectRejections: o.rejections,
		TemplateBundle:    o.templates,
		CalibrationIdx:    parseIndices(o.calibration),
	}
	res, err := pinchsense.Run(stream, cfg, o.detector, opts)
	if err != nil {
		return err
	}
	log.Info().Str("detector", res.DetectorType).Int("events", len(res.Events)).Msg("detection complete")

	outDir := filepath.Join(o.outDir, sessionTag(stream))
	if err := session.WriteEvents(res, filepath.Join(outDir, "events.csv")); err != nil {
		return err
	}
	if err := session.WriteSeries(res, filepath.Join(outDir, "series.csv")); err != nil {
		return err
	}
	if err := session.WriteResultJSON(res, filepath.Join(outDir, "result.json")); err != nil {
		return err
	}
	if err := report.WriteHTML(res, filepath.Join(outDir, "report.html")); err != nil {
		return err
	}
	log.Info().Str("dir", outDir).Msg("results written")

	if o.debugThresh && o.detector == pinchsense.DetectorStationary {
		dbg := pinchsense.NewThresholdDebugger(cfg)
		rep, err := dbg.Analyze(res)
		if err != nil {
			return err
		}
		printThresholdReport(rep)
	}

	if o.saveTemplates != "" && o.detector == pinchsense.DetectorTwoStage {
		if err := saveTemplates(o, cfg, stream, opts.CalibrationIdx); err != nil {
			return err
		}
	}
	return nil
}

func saveTemplates(o *options, cfg pinchsense.Config, stream *pinchsense.SensorStream, calibration []int) error {
	if len(calibration) == 0 {
		return fmt.Errorf("--save-templates requires --calibration-events")
	}
	det, err := pinchsense.NewTwoStageDetector(cfg)
	if err != nil {
		return err
	}
	_, _, fusion := det.Preprocess(stream)
	added := det.AddCalibrationTemplates(fusion, calibration)

	bundle := det.Verifier().Bundle(det.CriticalConfig(), pinchsense.SessionInfo{
		Filename: filepath.Base(stream.Filepath),
		Duration: stream.Duration(),
		FS:       stream.FS,
	})
	if err := pinchsense.SaveBundle(bundle, o.saveTemplates); err != nil {
		return err
	}
	log.Info().Int("templates", added).Str("path", o.saveTemplates).Msg("template bundle saved")
	return nil
}

func runLive(o *options, cfg pinchsense.Config) error {
	liveCfg := live.DefaultConfig()
	liveCfg.Broker = o.mqttBroker
	liveCfg.Port = o.mqttPort
	liveCfg.SampleTopic = o.sampleTopic
	liveCfg.EventTopic = o.eventTopic
	liveCfg.HTTPAddr = o.httpAddr

	collector, err := live.NewCollector(liveCfg, cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop()

	server := live.NewServer(collector)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	}
}

func printThresholdReport(rep *pinchsense.ThresholdReport) {
	log.Info().
		Int("peaks", rep.AllPeaks).
		Int("above", rep.AboveThreshold).
		Int("below", rep.BelowThreshold).
		Msg("threshold analysis")
	for _, mp := range rep.MissedPeaks {
		log.Info().
			Float64("time", mp.Time).
			Float64("score", mp.Score).
			Float64("threshold", mp.Threshold).
			Float64("margin", mp.Margin).
			Msg("missed peak")
	}
	if rep.RecommendedKMad > 0 {
		log.Info().
			Float64("current_k_mad", rep.CurrentKMad).
			Float64("recommended_k_mad", rep.RecommendedKMad).
			Float64("reduction_factor", rep.ReductionFactor).
			Msg("recommendation")
		if rep.Warning != "" {
			log.Warn().Msg(rep.Warning)
		}
	}
}

func parseIndices(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func sessionTag(stream *pinchsense.SensorStream) string {
	if stream.Metadata.SessionID != "" {
		return stream.Metadata.SessionID
	}
	base := filepath.Base(stream.Filepath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
