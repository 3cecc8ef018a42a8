package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Fprintf(os.Stderr,
		"Usage: softfm -f freq [options]\n"+
			"  -f freq       Frequency of radio station in Hz\n"+
			"  -d devidx     RTL-SDR device index, 'list' to show device list (default 0)\n"+
			"  -g gain       Set LNA gain in dB, or 'auto' (default auto)\n"+
			"  -a            Enable RTL AGC mode (default disabled)\n"+
			"  -s ifrate     IF sample rate in Hz (default 1200000)\n"+
			"                (valid ranges: [225001, 300000], [900001, 3200000]))\n"+
			"  -r pcmrate    Audio sample rate in Hz (default 48000 Hz)\n"+
			"  -M            Disable stereo decoding\n"+
			"  -R filename   Write audio data as raw S16_LE samples\n"+
			"                use filename '-' to write to stdout\n"+
			"  -W filename   Write audio data to .WAV file\n"+
			"  -P [device]   Play audio via PortAudio device (default 'default')\n"+
			"  -T filename   Write pulse-per-second timestamps\n"+
			"                use filename '-' to write to stdout\n"+
			"  -b seconds    Set audio buffer size in seconds\n"+
			"  -c filename   Load receiver settings from a YAML file\n"+
			"\n")
}

// fatalf prints a single ERROR: line to stderr and exits with status 1.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}

// badarg reports an invalid value for a command line option.
func badarg(label string) {
	usage()
	fatalf("Invalid argument for %s", label)
}

// parseDouble parses a floating point number with an optional k/M/G suffix.
func parseDouble(s string) (float64, bool) {
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1e3
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "M"):
		mult = 1e6
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult = 1e9
		s = strings.TrimSuffix(s, "G")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

// parseIntRate parses an integer with an optional k suffix.
func parseIntRate(s string) (int, bool) {
	mult := 1
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

// validIFRate checks the RTL-SDR supported sample rate ranges.
func validIFRate(rate float64) bool {
	if rate < 225001 || rate > 3200000 {
		return false
	}
	if rate > 300000 && rate < 900001 {
		return false
	}
	return true
}

// unixTime returns the wall clock as fractional Unix seconds.
func unixTime() float64 {
	return float64(time.Now().UnixNano()) * 1e-9
}

type outputMode int

const (
	modePlay outputMode = iota
	modeRaw
	modeWav
)

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)

	flags := flag.NewFlagSet("softfm", flag.ContinueOnError)
	flags.Usage = func() {}
	freqArg := flags.StringP("freq", "f", "", "station frequency in Hz")
	devArg := flags.StringP("dev", "d", "0", "device index or 'list'")
	gainArg := flags.StringP("gain", "g", "auto", "LNA gain in dB, 'auto' or 'list'")
	agcMode := flags.BoolP("agc", "a", false, "enable RTL AGC")
	ifrateArg := flags.StringP("ifrate", "s", "1200000", "IF sample rate in Hz")
	pcmrateArg := flags.StringP("pcmrate", "r", "48000", "audio sample rate in Hz")
	mono := flags.BoolP("mono", "M", false, "disable stereo decoding")
	rawFile := flags.StringP("raw", "R", "", "raw S16_LE output file")
	wavFile := flags.StringP("wav", "W", "", ".WAV output file")
	playDev := flags.StringP("play", "P", "", "playback device")
	flags.Lookup("play").NoOptDefVal = "default"
	ppsFile := flags.StringP("pps", "T", "", "pulse-per-second log file")
	bufSecs := flags.Float64P("buffer", "b", -1, "audio buffer in seconds")
	configFile := flags.StringP("config", "c", "", "receiver settings YAML file")

	if err := flags.Parse(os.Args[1:]); err != nil {
		usage()
		fatalf("Invalid command line options")
	}
	if flags.NArg() > 0 {
		usage()
		fatalf("Unexpected command line options")
	}

	cfg := DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = LoadConfig(*configFile)
		if err != nil {
			fatalf("%v", err)
		}
	}

	if *freqArg == "" {
		usage()
		fatalf("Specify a tuning frequency")
	}
	freq, ok := parseDouble(*freqArg)
	if !ok || freq <= 0 {
		badarg("-f")
	}

	ifrate, ok := parseDouble(*ifrateArg)
	if !ok || !validIFRate(ifrate) {
		badarg("-s")
	}

	pcmrate, ok := parseIntRate(*pcmrateArg)
	if !ok || pcmrate < 1 {
		badarg("-r")
	}

	if flags.Changed("buffer") && *bufSecs < 0 {
		badarg("-b")
	}

	devidx := 0
	if v, err := strconv.Atoi(*devArg); err == nil {
		devidx = v
	} else {
		devidx = -1
	}

	lnaGain := TunerGainAuto
	listGains := false
	switch strings.ToLower(*gainArg) {
	case "auto":
	case "list":
		listGains = true
	default:
		g, ok := parseDouble(*gainArg)
		if !ok {
			badarg("-g")
		}
		lnaGain = int(math.Round(g * 10))
	}

	outmode := modePlay
	filename := *playDev
	switch {
	case *rawFile != "":
		outmode = modeRaw
		filename = *rawFile
	case *wavFile != "":
		outmode = modeWav
		filename = *wavFile
	}

	log.Printf("SoftFM - Software decoder for FM broadcast radio with RTL-SDR")

	devnames := GetDeviceNames()
	if devidx < 0 || devidx >= len(devnames) {
		if devidx != -1 {
			fmt.Fprintf(os.Stderr, "ERROR: invalid device index %d\n", devidx)
		}
		fmt.Fprintf(os.Stderr, "Found %d devices:\n", len(devnames))
		for i, name := range devnames {
			fmt.Fprintf(os.Stderr, "%2d: %s\n", i, name)
		}
		os.Exit(1)
	}
	log.Printf("using device %d: %s", devidx, devnames[devidx])

	// Intentionally tune at a higher frequency to avoid DC offset.
	tunerFreq := freq + 0.25*ifrate

	source, err := OpenRtlSdr(devidx)
	if err != nil {
		fatalf("RtlSdr: %v", err)
	}
	defer source.Close()

	if lnaGain != TunerGainAuto || listGains {
		gains, err := source.TunerGains()
		if err != nil {
			fatalf("RtlSdr: %v", err)
		}
		if listGains || !containsInt(gains, lnaGain) {
			if !listGains {
				fmt.Fprintf(os.Stderr, "ERROR: LNA gain %.1f dB not supported by tuner\n", 0.1*float64(lnaGain))
			}
			fmt.Fprintf(os.Stderr, "Supported LNA gains:")
			for _, g := range gains {
				fmt.Fprintf(os.Stderr, " %.1f dB", 0.1*float64(g))
			}
			fmt.Fprintf(os.Stderr, "\n")
			os.Exit(1)
		}
	}

	if err := source.Configure(int(ifrate), int(tunerFreq), lnaGain, defaultBlockLength, *agcMode); err != nil {
		fatalf("RtlSdr: %v", err)
	}

	tunerFreq = float64(source.Frequency())
	log.Printf("device tuned for:  %.6f MHz", tunerFreq*1e-6)
	if lnaGain == TunerGainAuto {
		log.Printf("LNA gain:          auto")
	} else {
		log.Printf("LNA gain:          %.1f dB", 0.1*float64(source.TunerGain()))
	}
	ifrate = float64(source.SampleRate())
	log.Printf("IF sample rate:    %.0f Hz", ifrate)
	if *agcMode {
		log.Printf("RTL AGC mode:      enabled")
	} else {
		log.Printf("RTL AGC mode:      disabled")
	}

	// The baseband signal is empty above 100 kHz, so it can be decimated to
	// ~200 kS/s without loss of information. This speeds up all later
	// stages.
	downsample := int(ifrate / 215e3)
	if downsample < 1 {
		downsample = 1
	}
	log.Printf("baseband downsampling factor %d", downsample)

	// Prevent aliasing at very low output sample rates.
	bandwidthPCM := math.Min(defaultBandwidthPCM, 0.45*float64(pcmrate))
	log.Printf("audio sample rate: %d Hz", pcmrate)
	log.Printf("audio bandwidth:   %.3f kHz", bandwidthPCM*1e-3)

	stereo := !*mono

	var ppsLog *PpsLogger
	if *ppsFile != "" {
		if *ppsFile == "-" {
			log.Printf("writing pulse-per-second markers to stdout")
		} else {
			log.Printf("writing pulse-per-second markers to '%s'", *ppsFile)
		}
		ppsLog, err = NewPpsLogger(*ppsFile)
		if err != nil {
			fatalf("%v", err)
		}
		defer ppsLog.Close()
	}

	var audioOutput AudioOutput
	var playback *PortAudioOutput
	switch outmode {
	case modeRaw:
		log.Printf("writing raw 16-bit audio samples to '%s'", filename)
		audioOutput, err = NewRawAudioOutput(filename)
	case modeWav:
		log.Printf("writing audio samples to '%s'", filename)
		audioOutput, err = NewWavAudioOutput(filename, pcmrate, stereo)
	case modePlay:
		playIndex := -1
		if filename != "" && filename != "default" {
			playIndex, ok = parseIntRate(filename)
			if !ok {
				badarg("-P")
			}
		}
		log.Printf("playing audio via PortAudio")
		playback, err = NewPortAudioOutput(pcmrate, stereo, playIndex, *bufSecs)
		audioOutput = playback
	}
	if err != nil {
		fatalf("AudioOutput: %v", err)
	}

	decoder := NewFmDecoder(FmDecoderConfig{
		SampleRateIF:  ifrate,
		TuningOffset:  freq - tunerFreq,
		SampleRatePCM: float64(pcmrate),
		Stereo:        stereo,
		Deemphasis:    cfg.DeemphasisUs,
		BandwidthIF:   defaultBandwidthIF,
		FreqDev:       defaultFreqDev,
		BandwidthPCM:  bandwidthPCM,
		PLLLoopHz:     cfg.PLLLoopHz,
		Downsample:    downsample,
	})

	var metrics *PrometheusMetrics
	if cfg.MetricsListen != "" {
		metrics = NewPrometheusMetrics()
		startMetricsServer(cfg.MetricsListen)
	}

	// Output buffering for non-interactive sinks. The playback sink has its
	// own queue sized from -b; a raw stream to stdout defaults to one second
	// of buffering like the other interactive case.
	nchannel := 1
	if stereo {
		nchannel = 2
	}
	outputBufSamples := 0
	if playback == nil {
		if *bufSecs < 0 && outmode == modeRaw && filename == "-" {
			outputBufSamples = pcmrate * nchannel
		} else if *bufSecs > 0 {
			outputBufSamples = int(*bufSecs * float64(pcmrate) * float64(nchannel))
		}
	}
	var outputBuffer *sampleBuffer
	var outputWG sync.WaitGroup
	if outputBufSamples > 0 {
		log.Printf("output buffer:     %.1f seconds",
			float64(outputBufSamples)/float64(nchannel)/float64(pcmrate))
		outputBuffer = newSampleBuffer()
		outputWG.Add(1)
		go func() {
			defer outputWG.Done()
			writeOutputData(audioOutput, outputBuffer, outputBufSamples)
		}()
	}

	ring := NewIQRing(cfg.CaptureQueueBlocks, source.BlockLength())

	var stop atomic.Bool
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		fmt.Fprintf(os.Stderr, "\nGot signal %v, stopping ...\n", sig)
		stop.Store(true)
		ring.Close()
	}()

	if err := source.StartAsync(ring); err != nil {
		fatalf("RtlSdr: %v", err)
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	var droppedSeen uint64
	blockTime := unixTime()

	for block := 0; !stop.Load(); block++ {
		iq, ok := ring.Pull()
		if !ok {
			break
		}

		prevBlockTime := blockTime
		blockTime = unixTime()

		audio := decoder.Process(iq)
		ring.Release()

		if dropped := ring.Dropped(); dropped > droppedSeen {
			fmt.Fprintf(os.Stderr, "\nWARNING: capture queue overflow, dropped %d blocks (system too slow)\n",
				dropped-droppedSeen)
			droppedSeen = dropped
		}

		cpu := 0.0
		if proc != nil {
			if pct, err := proc.Percent(0); err == nil {
				cpu = pct
			}
		}

		bufferSecs := 0.0
		if playback != nil {
			bufferSecs = playback.BufferSeconds()
		} else if outputBuffer != nil {
			bufferSecs = float64(outputBuffer.queuedSamples()) / float64(nchannel) / float64(pcmrate)
		}

		fmt.Fprintf(os.Stderr,
			"\rcpu=%5.2f  blk=%6d  freq=%8.4fMHz  IF=%+5.1fdB  BB=%+5.1fdB  audio=%+5.1fdB ",
			cpu,
			block,
			(tunerFreq+decoder.TuningOffset())*1e-6,
			20*math.Log10(decoder.IFLevel()),
			20*math.Log10(decoder.BasebandLevel())+3.01,
			20*math.Log10(decoder.AudioLevel())+3.01)
		if outputBufSamples > 0 || playback != nil {
			fmt.Fprintf(os.Stderr, " buf=%.1fs ", bufferSecs)
		}
		if decoder.StereoDetected() {
			fmt.Fprintf(os.Stderr, "stereo (level: %.4f)", decoder.PilotLevel())
		} else {
			fmt.Fprintf(os.Stderr, "                      ")
		}

		events := decoder.PpsEvents()
		if ppsLog != nil {
			for _, ev := range events {
				if err := ppsLog.Log(ev, prevBlockTime, blockTime); err != nil {
					fmt.Fprintf(os.Stderr, "\nWARNING: %v\n", err)
				}
			}
		}

		var underruns uint64
		if playback != nil {
			underruns = playback.Underruns()
		}
		metrics.UpdateBlock(decoder, bufferSecs, ring.Dropped(), underruns, len(events))

		// Throw away the first block; the IF filters are still starting up.
		if block == 0 {
			continue
		}

		if outputBuffer != nil {
			copied := make([]float32, len(audio))
			copy(copied, audio)
			outputBuffer.push(copied)
		} else if err := audioOutput.Write(audio); err != nil {
			fmt.Fprintf(os.Stderr, "\nERROR: AudioOutput: %v\n", err)
		}
	}
	fmt.Fprintf(os.Stderr, "\n")

	if err := source.AsyncError(); err != nil {
		fatalf("RtlSdr: %v", err)
	}
	if err := source.StopAsync(); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}
	if outputBuffer != nil {
		outputBuffer.pushEnd()
		outputWG.Wait()
	}
	if err := audioOutput.Close(); err != nil {
		fatalf("AudioOutput: %v", err)
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
