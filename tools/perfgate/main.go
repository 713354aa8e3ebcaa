// Package main implements perfgate, which runs the stomp benchmarks and fails
// when ns/op or allocs/op regress past a baseline.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type benchmarkBaseline struct {
	NSOp     float64 `yaml:"ns_op"`
	AllocsOp float64 `yaml:"allocs_op"`
}

type baselineFile struct {
	Benchmarks map[string]benchmarkBaseline `yaml:"benchmarks"`
}

type benchmarkResult struct {
	NSOp     float64
	AllocsOp float64
}

type gateFlags struct {
	baseline      string
	pkg           string
	benchtime     string
	maxRegression float64
}

func loadBaseline(path string) (baselineFile, error) {
	baseline := baselineFile{}
	data, err := os.ReadFile(path) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		return baseline, errors.Wrap(err, "perf baseline read failed")
	}
	if err := yaml.Unmarshal(data, &baseline); err != nil {
		return baseline, errors.Wrap(err, "perf baseline parse failed")
	}
	if len(baseline.Benchmarks) == 0 {
		return baseline, errors.New("perf baseline is empty")
	}
	return baseline, nil
}

func parseBenchOutput(output string) map[string]benchmarkResult {
	results := map[string]benchmarkResult{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}
		// BenchmarkName-20  N  ns/op  B/op  allocs/op
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		name := fields[0]
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}

		var result benchmarkResult
		hasNSOp, hasAllocsOp := false, false
		for i := 0; i < len(fields)-1; i++ {
			parsed, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			switch fields[i+1] {
			case "ns/op":
				result.NSOp, hasNSOp = parsed, true
			case "allocs/op":
				result.AllocsOp, hasAllocsOp = parsed, true
			}
		}
		if hasNSOp && hasAllocsOp && result.NSOp > 0 {
			results[name] = result
		}
	}
	return results
}

// compare returns every regression of results against baseline, sorted. A
// zero-allocation baseline tolerates no allocation at all.
func compare(baseline baselineFile, results map[string]benchmarkResult, maxRegression float64) []string {
	failures := []string{}
	factor := 1.0 + maxRegression/100.0
	for name, expected := range baseline.Benchmarks {
		actual, ok := results[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("missing benchmark result: %s", name))
			continue
		}
		if maxNS := expected.NSOp * factor; actual.NSOp > maxNS {
			failures = append(failures, fmt.Sprintf("%s ns/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.NSOp, actual.NSOp, maxNS))
		}
		if maxAllocs := expected.AllocsOp * factor; actual.AllocsOp > maxAllocs {
			failures = append(failures, fmt.Sprintf("%s allocs/op regression: baseline %.2f, actual %.2f, max %.2f", name, expected.AllocsOp, actual.AllocsOp, maxAllocs))
		}
	}
	sort.Strings(failures)
	return failures
}

func benchPattern(baseline baselineFile) string {
	names := make([]string, 0, len(baseline.Benchmarks))
	for name := range baseline.Benchmarks {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return "^(" + strings.Join(names, "|") + ")$"
}

func runGate(flags gateFlags) error {
	baseline, err := loadBaseline(flags.baseline)
	if err != nil {
		return err
	}

	command := exec.Command("go", "test", flags.pkg, "-run", "^$", "-bench", benchPattern(baseline), "-benchmem", "-count=1", "-benchtime="+flags.benchtime) // #nosec G204 -- arguments are passed without shell expansion
	outputBytes, err := command.CombinedOutput()
	output := string(outputBytes)
	if err != nil {
		return errors.Wrapf(err, "benchmark command failed\n%s", output)
	}

	failures := compare(baseline, parseBenchOutput(output), flags.maxRegression)
	fmt.Print(output)
	if len(failures) == 0 {
		fmt.Println("perf gate: PASS")
		return nil
	}
	fmt.Println("perf gate: FAIL")
	for _, failure := range failures {
		fmt.Printf("- %s\n", failure)
	}
	return errors.Errorf("%d benchmark regressions", len(failures))
}

func main() {
	var flags gateFlags

	cmd := &cobra.Command{
		Use:           "perfgate",
		Short:         "Compare stomp benchmarks against a baseline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(flags)
		},
	}

	cmd.Flags().StringVar(&flags.baseline, "baseline", "tools/perf_baseline.yaml", "path to benchmark baseline YAML")
	cmd.Flags().StringVar(&flags.pkg, "package", "./stomp", "package path for benchmarks")
	cmd.Flags().StringVar(&flags.benchtime, "benchtime", "1s", "go test benchmark duration")
	cmd.Flags().Float64Var(&flags.maxRegression, "max-regression", 10.0, "max allowed regression percentage")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "perfgate: %s\n", err)
		os.Exit(2)
	}
}
