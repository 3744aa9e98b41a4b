package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/OpenClient/internal/logger"
	"github.com/PentesterFlow/OpenClient/internal/metrics"
	"github.com/PentesterFlow/OpenClient/internal/shutdown"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/pkg/client"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
)

func init() {
	contract.RegisterType("html", reflect.TypeFor[*goquery.Document]())
}

// loadContract reads the contract after expanding environment variables,
// loading the env file first when one is given.
func loadContract(g *globalFlags) (*contract.File, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	data, err := os.ReadFile(g.contractFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract: %w", err)
	}
	return contract.Parse([]byte(os.ExpandEnv(string(data))))
}

func runCall(cmd *cobra.Command, g *globalFlags, cf *callFlags, name string) error {
	file, err := loadContract(g)
	if err != nil {
		return err
	}
	m, err := file.Method(name)
	if err != nil {
		return err
	}

	config := client.DefaultConfig()
	if g.configFile != "" {
		config, err = client.LoadFromFile(g.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if config.BaseURL == "" {
		config.BaseURL = file.BaseURL
	}

	level := logger.WarnLevel
	if g.debug {
		level = logger.DebugLevel
	}
	opts := []client.Option{
		client.WithConfig(config),
		client.WithLogger(logger.New(logger.Config{
			Level:     level,
			Pretty:    true,
			Output:    cmd.ErrOrStderr(),
			Component: "cli",
		})),
	}

	// Command-line flags take precedence over the config file
	flags := cmd.Flags()
	if cf.baseURL != "" {
		opts = append(opts, client.WithBaseURL(cf.baseURL))
	}
	if flags.Changed("timeout") {
		opts = append(opts, client.WithTimeout(time.Duration(cf.timeout)*time.Second))
	}
	if cf.token != "" {
		opts = append(opts, client.WithBearerToken(cf.token))
	}
	if cf.username != "" {
		opts = append(opts, client.WithBasicAuth(cf.username, cf.password))
	}
	if flags.Changed("retries") {
		opts = append(opts, client.WithRetry(cf.retries))
	}
	if cf.resilience {
		opts = append(opts, client.WithResilience(true))
	}
	if cf.fasthttp {
		opts = append(opts, client.WithBackend(client.BackendFastHTTP))
	}
	if g.verbose {
		opts = append(opts, client.WithMetrics(metrics.New()))
	}

	c, err := client.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	args, err := bindArgs(m, cf.args)
	if err != nil {
		return err
	}

	ctx, stop := shutdown.SignalContext(cmd.Context())
	defer stop()

	start := time.Now()
	result, err := c.Invoke(ctx, m, args...)
	if g.verbose {
		printSummary(cmd.ErrOrStderr(), m, c.Metrics().Snapshot(), time.Since(start), err)
	}
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func runDescribe(cmd *cobra.Command, g *globalFlags) error {
	file, err := loadContract(g)
	if err != nil {
		return err
	}
	methods, err := file.Build()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Service:  %s\n", file.Service)
	if file.BaseURL != "" {
		fmt.Fprintf(w, "Base URL: %s\n", file.BaseURL)
	}
	fmt.Fprintln(w)

	for _, m := range methods {
		fmt.Fprintf(w, "  %-24s %-7s %s -> %s\n", m.ID(), m.HTTPMethod, m.Path, typeName(m.ReturnType))
		for _, p := range m.Parameters {
			fmt.Fprintf(w, "      %-20s %-8s %s\n", paramName(p), p.Kind, typeName(p.Type))
		}
	}
	return nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "none"
	}
	return t.String()
}

func paramName(p contract.Parameter) string {
	if p.Name == "" && p.Kind == contract.Body {
		return "body"
	}
	return p.Name
}

// bindArgs converts name=value pairs into the positional arguments of m.
// Missing parameters are passed as nil.
func bindArgs(m *contract.Method, raw []string) ([]any, error) {
	values := make(map[string]string, len(raw))
	for _, a := range raw {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", a)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", name, err)
			}
			value = string(data)
		}
		values[name] = os.ExpandEnv(value)
	}

	args := make([]any, len(m.Parameters))
	for i, p := range m.Parameters {
		if p.Kind == contract.Callback {
			return nil, fmt.Errorf("%s: callback parameters cannot be passed on the command line", m.ID())
		}
		name := paramName(p)
		value, ok := values[name]
		if !ok {
			continue
		}
		delete(values, name)

		v, err := parseArg(p.Type, value)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		args[i] = v
	}

	if len(values) > 0 {
		unknown := make([]string, 0, len(values))
		for name := range values {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("%s has no parameter %s", m.ID(), strings.Join(unknown, ", "))
	}
	return args, nil
}

var (
	bytesType   = reflect.TypeFor[[]byte]()
	stringsType = reflect.TypeFor[[]string]()
	gsonType    = reflect.TypeFor[gson.JSON]()
)

func parseArg(t reflect.Type, raw string) (any, error) {
	switch t {
	case bytesType:
		return []byte(raw), nil
	case gsonType:
		return gson.NewFrom(raw), nil
	case stringsType:
		if !strings.HasPrefix(strings.TrimSpace(raw), "[") {
			return strings.Split(raw, ","), nil
		}
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t).Interface(), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(b).Convert(t).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
		if t.Kind() == reflect.Interface {
			return raw, nil
		}
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func printResult(w io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	case *transport.Response:
		defer v.Close()
		fmt.Fprintf(w, "HTTP %d\n", v.StatusCode)
		_, err := io.Copy(w, v.Body)
		return err
	case gson.JSON:
		_, err := fmt.Fprintln(w, v.JSON("", "  "))
		return err
	case *goquery.Document:
		html, err := v.Html()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, html)
		return err
	default:
		_, err := fmt.Fprintln(w, gson.New(v).JSON("", "  "))
		return err
	}
}
