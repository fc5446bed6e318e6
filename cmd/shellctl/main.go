package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "tabs":
		err = runGet("tabs", args, func(fs *flag.FlagSet) func() (string, error) {
			return func() (string, error) { return "/v1/tabs", nil }
		})
	case "session":
		err = runGet("session", args, func(fs *flag.FlagSet) func() (string, error) {
			return func() (string, error) { return "/v1/session", nil }
		})
	case "stats":
		err = runGet("stats", args, func(fs *flag.FlagSet) func() (string, error) {
			return func() (string, error) { return "/v1/cache/stats", nil }
		})
	case "entry":
		err = runGet("entry", args, func(fs *flag.FlagSet) func() (string, error) {
			key := fs.String("key", "", "logical cache key, without prefix")
			return func() (string, error) {
				if strings.TrimSpace(*key) == "" {
					return "", fmt.Errorf("key is required")
				}
				return "/v1/cache/entries/" + url.PathEscape(*key), nil
			}
		})
	case "unread":
		err = runGet("unread", args, func(fs *flag.FlagSet) func() (string, error) {
			group := fs.String("group", "", "group id")
			user := fs.String("user", "", "reading user id")
			return func() (string, error) {
				if *group == "" || *user == "" {
					return "", fmt.Errorf("group and user are required")
				}
				return fmt.Sprintf("/v1/groups/%s/unread?user=%s", url.PathEscape(*group), url.QueryEscape(*user)), nil
			}
		})
	case "cleanup":
		err = runSimple("cleanup", args, http.MethodPost, "/v1/cache/cleanup")
	case "clear":
		err = runSimple("clear", args, http.MethodDelete, "/v1/cache/")
	case "logout":
		err = runSimple("logout", args, http.MethodPost, "/v1/session/logout")
	case "login":
		err = runLogin(args)
	case "tab":
		err = runTab(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  tabs      List live tabs")
	fmt.Fprintln(os.Stderr, "  session   Show the current session")
	fmt.Fprintln(os.Stderr, "  login     Issue a dev token and store the session")
	fmt.Fprintln(os.Stderr, "  logout    Clear the session and notify open tabs")
	fmt.Fprintln(os.Stderr, "  stats     Show cache statistics")
	fmt.Fprintln(os.Stderr, "  entry     Show one cache entry")
	fmt.Fprintln(os.Stderr, "  unread    List unread messages of a group")
	fmt.Fprintln(os.Stderr, "  cleanup   Remove expired cache entries")
	fmt.Fprintln(os.Stderr, "  clear     Remove every cache entry")
	fmt.Fprintln(os.Stderr, "  tab       Run a headless tab against the shared storage")
	os.Exit(2)
}

func baseURLFlag(fs *flag.FlagSet) *string {
	return fs.String("base-url", getenv("SHELLCTL_BASE_URL", "http://localhost:8090"), "shelld base URL")
}

// runGet parses the command's flags and fetches the path built from them.
func runGet(name string, args []string, setup func(*flag.FlagSet) func() (string, error)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := baseURLFlag(fs)
	build := setup(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := build()
	if err != nil {
		return err
	}
	return call(http.MethodGet, *baseURL, path, nil)
}

func runSimple(name string, args []string, method, path string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := baseURLFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return call(method, *baseURL, path, nil)
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := baseURLFlag(fs)
	email := fs.String("email", "", "account email")
	ttl := fs.Duration("ttl", 0, "token lifetime (server default if zero)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return fmt.Errorf("email is required")
	}
	payload := map[string]string{"email": *email}
	if *ttl > 0 {
		payload["ttl"] = ttl.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return call(http.MethodPost, *baseURL, "/v1/session/login", body)
}

func call(method, baseURL, path string, body []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close response body: %v\n", cerr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return fmt.Errorf("%s %s failed: %s", method, path, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return printJSON(map[string]string{"status": resp.Status})
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = os.Stdout.Write(data)
		return err
	}
	return printJSON(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
