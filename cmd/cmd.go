// cmd.go - CLI-Kommandos fuer Wavegen
//
// Dieses Modul enthaelt:
// - NewCLI: Root-Command mit generate, inspect und serve
// - GenerateHandler: Sampling-Durchlauf mit Fortschrittsanzeige
// - InspectHandler: Tensoren eines Checkpoints auflisten
// - ServeHandler: HTTP-Server starten
package cmd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/wavegen/wavegen/checkpoint"
	"github.com/wavegen/wavegen/diffusion"
	"github.com/wavegen/wavegen/envconfig"
	"github.com/wavegen/wavegen/progress"
	"github.com/wavegen/wavegen/server"
	"github.com/wavegen/wavegen/tensor"
	"github.com/wavegen/wavegen/version"
)

// zeroModel predicts zero velocity everywhere. It keeps the full pipeline
// runnable without checkpoint weights.
func zeroModel() diffusion.Model {
	return diffusion.ModelFunc(func(x *tensor.Array, t float64) (*tensor.Array, error) {
		return tensor.Zeros(x.Shape()...), nil
	})
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Println("wavegen version is", version.Version)
}

func GenerateHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	solverName, _ := flags.GetString("solver")
	steps, _ := flags.GetInt("steps")
	eta, _ := flags.GetFloat64("eta")
	sigmaMin, _ := flags.GetFloat64("sigma-min")
	sigmaMax, _ := flags.GetFloat64("sigma-max")
	rho, _ := flags.GetFloat64("rho")
	seed, _ := flags.GetUint64("seed")
	channels, _ := flags.GetInt("channels")
	samples, _ := flags.GetInt("samples")
	initPath, _ := flags.GetString("init")
	maskPath, _ := flags.GetString("mask")
	out, _ := flags.GetString("out")
	count, _ := flags.GetInt("count")

	var solver diffusion.Solver
	if solverName != "ddim" {
		var err error
		if solver, err = diffusion.ParseSolver(solverName); err != nil {
			return err
		}
	}

	var init, mask *tensor.Array
	var err error
	if initPath != "" {
		if init, err = readSignal(initPath, channels, samples); err != nil {
			return err
		}
	}
	if maskPath != "" {
		if init == nil {
			return fmt.Errorf("--mask requires --init")
		}
		if mask, err = readSignal(maskPath, channels, samples); err != nil {
			return err
		}
	}

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	model := zeroModel()

	p := progress.NewProgress(os.Stderr)
	defer p.Stop()

	g := new(errgroup.Group)
	for i := 0; i < count; i++ {
		bar := progress.NewStepBar(fmt.Sprintf("generating %d/%d", i+1, count), steps)
		p.Add(bar)
		src := rand.NewSource(seed + uint64(i))

		g.Go(func() error {
			report := func(step, total int) { bar.Set(step) }

			noise := tensor.RandomNormal(src, channels, samples)
			var signal *tensor.Array
			var err error
			if solverName == "ddim" {
				signal, err = diffusion.SampleDDIM(model, noise, diffusion.DDIMConfig{
					Steps:    steps,
					Eta:      eta,
					Src:      src,
					Progress: report,
				})
			} else {
				signal, err = diffusion.SampleSolver(model, noise, diffusion.SolverConfig{
					Solver:   solver,
					Steps:    steps,
					SigmaMin: sigmaMin,
					SigmaMax: sigmaMax,
					Rho:      rho,
					Init:     init,
					Mask:     mask,
					Src:      src,
					Progress: report,
				})
			}
			if err != nil {
				return err
			}

			path := out
			if count > 1 {
				path = fmt.Sprintf("%s.%d", out, i)
			}
			return writeSignal(path, signal)
		})
	}

	return g.Wait()
}

// InspectHandler lists the tensors of a checkpoint file. Safetensors and
// torch pickle files are both handled, picked by file extension.
func InspectHandler(cmd *cobra.Command, args []string) error {
	path := args[0]

	var weights map[string]*tensor.Array
	var err error
	if strings.HasSuffix(path, ".safetensors") {
		weights, err = checkpoint.LoadSafetensors(os.DirFS(filepath.Dir(path)), filepath.Base(path))
	} else {
		weights, err = checkpoint.LoadTorch(path)
	}
	if err != nil {
		return err
	}

	names := maps.Keys(weights)
	slices.Sort(names)

	total := 0
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSHAPE\tVALUES")
	for _, name := range names {
		a := weights[name]
		fmt.Fprintf(w, "%s\t%v\t%d\n", name, a.Shape(), a.Numel())
		total += a.Numel()
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "total parameters: %d\n", total)
	return nil
}

func ServeHandler(cmd *cobra.Command, _ []string) error {
	host := envconfig.Host()

	ln, err := net.Listen("tcp", host.Host)
	if err != nil {
		return err
	}

	registry := server.NewRegistry()
	registry.Register("zero", zeroModel())

	return server.Serve(ln, registry)
}

// readSignal liest ein float32 little-endian Rohsignal von path
func readSignal(path string, channels, samples int) (*tensor.Array, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != channels*samples*4 {
		return nil, fmt.Errorf("%s: %d bytes, want %d for shape (%d, %d)", path, len(raw), channels*samples*4, channels, samples)
	}

	f32s := make([]float32, channels*samples)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, f32s); err != nil {
		return nil, err
	}

	data := make([]float64, len(f32s))
	for i, v := range f32s {
		data[i] = float64(v)
	}
	return tensor.New(data, channels, samples), nil
}

// writeSignal schreibt ein Signal als float32 little-endian nach path
func writeSignal(path string, signal *tensor.Array) error {
	f32s := make([]float32, signal.Numel())
	for i, v := range signal.Data() {
		f32s[i] = float32(v)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, f32s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "wavegen",
		Short:         "Audio diffusion sampler",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample audio from a diffusion model",
		Args:  cobra.ExactArgs(0),
		RunE:  GenerateHandler,
	}
	generateCmd.Flags().String("solver", "dpmpp-2m-sde", "Stepping algorithm (ddim, heun, lms, dpmpp-2s-ancestral, dpm-2, dpm-fast, dpm-adaptive, dpmpp-2m-sde)")
	generateCmd.Flags().Int("steps", 100, "Denoising step count")
	generateCmd.Flags().Float64("eta", 0, "DDIM stochasticity")
	generateCmd.Flags().Float64("sigma-min", 0.5, "Lowest noise level")
	generateCmd.Flags().Float64("sigma-max", 50, "Highest noise level")
	generateCmd.Flags().Float64("rho", 1, "Schedule curvature")
	generateCmd.Flags().Uint64("seed", 0, "Noise seed, 0 for random")
	generateCmd.Flags().Int("channels", 2, "Output channels")
	generateCmd.Flags().Int("samples", 65536, "Output samples per channel")
	generateCmd.Flags().String("init", "", "Reference signal file (float32 little-endian)")
	generateCmd.Flags().String("mask", "", "Soft inpainting mask file (float32 little-endian)")
	generateCmd.Flags().String("out", "out.f32", "Output file")
	generateCmd.Flags().Int("count", 1, "Number of samples to generate in parallel")

	inspectCmd := &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "List the tensors of a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the wavegen server",
		Args:    cobra.ExactArgs(0),
		RunE:    ServeHandler,
	}

	rootCmd.AddCommand(
		generateCmd,
		inspectCmd,
		serveCmd,
	)

	return rootCmd
}
