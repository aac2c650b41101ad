// config.go - Haupt-Konfigurationsfunktionen fuer Wavegen
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (WAVEGEN_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (WAVEGEN_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (WAVEGEN_DEBUG)
// - Var: Liest Environment-Variablen
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via WAVEGEN_HOST
// Default: http://127.0.0.1:11711
func Host() *url.URL {
	defaultPort := "11711"

	s := strings.TrimSpace(Var("WAVEGEN_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt die erlaubten CORS-Origins zurueck
// Konfigurierbar via WAVEGEN_ORIGINS
func AllowedOrigins() (origins []string) {
	if s := Var("WAVEGEN_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	// Standard-Origins fuer localhost
	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	origins = append(origins,
		"app://*",
		"file://*",
	)

	return origins
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via WAVEGEN_DEBUG
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("WAVEGEN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Values gibt alle Konfigurationswerte als String-Map zurueck (fuer Logging)
func Values() map[string]string {
	return map[string]string{
		"WAVEGEN_HOST":    Host().String(),
		"WAVEGEN_ORIGINS": strings.Join(AllowedOrigins(), ","),
		"WAVEGEN_DEBUG":   LogLevel().String(),
	}
}
