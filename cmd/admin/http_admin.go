package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"voxelgate.ai/internal/server"
)

func fetchState(baseURL string) ([]byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return b, nil
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server admin base url")
	_ = fs.Parse(args)

	b, err := fetchState(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(b)))
}

func playersCmd(args []string) {
	fs := flag.NewFlagSet("players", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server admin base url")
	_ = fs.Parse(args)

	b, err := fetchState(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	var st server.State
	if err := json.Unmarshal(b, &st); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	writePlayers(os.Stdout, st)
}

func writePlayers(w io.Writer, st server.State) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONN\tNAME\tUUID\tREMOTE\tSTATE\tQUEUED")
	for _, p := range st.Online {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", p.Conn, p.Name, p.UUID, p.Remote, p.State, p.Queued)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d sessions, %d players, tick %d\n", st.Sessions, st.Players, st.Tick)
}
