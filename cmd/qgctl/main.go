package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jonatan852/querygrid/internal/lifecycle"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/service"
)

var (
	coordinatorURL string
	httpClient     = &http.Client{Timeout: 2 * time.Minute}
)

var rootCmd = &cobra.Command{
	Use:   "qgctl",
	Short: "CLI de operação do querygrid",
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Submete uma query SQL e imprime o resultado",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp service.QueryResponse
		if err := postJSON("/query", map[string]string{"sql": args[0]}, &resp); err != nil {
			return err
		}
		if resp.Status != "COMPLETED" {
			return fmt.Errorf("query %s terminou como %s: %s", resp.QueryID, resp.Status, resp.ErrorMessage)
		}
		printResult(resp)
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <sql>",
	Short: "Mostra o plano de execução sem rodar a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := "json"
		if dot, _ := cmd.Flags().GetBool("dot"); dot {
			format = "dot"
		}
		raw, err := getRaw("/query/plan?format=" + format + "&sql=" + url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Lista os workers registrados",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Workers []registry.WorkerInfo `json:"workers"`
		}
		if err := getJSON("/workers/", &payload); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tENDPOINT\tÚLTIMO HEARTBEAT")
		for _, info := range payload.Workers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				info.WorkerID, info.Status, info.Endpoint, info.LastHeartbeat.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Mostra os contadores do cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats registry.ClusterStats
		if err := getJSON("/cluster/stats", &stats); err != nil {
			return err
		}
		fmt.Printf("total=%d healthy=%d unhealthy=%d draining=%d\n",
			stats.Total, stats.Healthy, stats.Unhealthy, stats.Draining)
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Lista as queries mais recentes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var payload struct {
			Queries []struct {
				QueryID  string `json:"queryId"`
				SQL      string `json:"sql"`
				State    string `json:"state"`
				RowCount int    `json:"rowCount"`
			} `json:"queries"`
		}
		if err := getJSON(fmt.Sprintf("/queries/recent?limit=%d", limit), &payload); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tESTADO\tLINHAS\tSQL")
		for _, q := range payload.Queries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", q.QueryID, q.State, q.RowCount, q.SQL)
		}
		return w.Flush()
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <query-id>",
	Short: "Cancela uma query em execução",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodDelete, coordinatorURL+"/query/"+args[0], nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var out struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if !out.Cancelled {
			return fmt.Errorf("query %s não estava em execução", args[0])
		}
		fmt.Println("cancelada")
		return nil
	},
}

var workerCreateCmd = &cobra.Command{
	Use:   "worker-create <worker-id>",
	Short: "Sobe um container de worker via Docker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		manager, err := lifecycle.NewDockerManager(image)
		if err != nil {
			return err
		}
		containerID, err := manager.Create(context.Background(), args[0], map[string]string{
			"QUERYGRID_COORDINATOR_URL": coordinatorURL,
		})
		if err != nil {
			return err
		}
		fmt.Println(containerID)
		return nil
	},
}

var workerRemoveCmd = &cobra.Command{
	Use:   "worker-remove <worker-id>",
	Short: "Remove o container de um worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		manager, err := lifecycle.NewDockerManager("")
		if err != nil {
			return err
		}
		return manager.Remove(context.Background(), args[0], !force)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", "http://localhost:8080", "URL do coordinator")
	planCmd.Flags().Bool("dot", false, "emite o plano em Graphviz DOT")
	recentCmd.Flags().Int("limit", 20, "máximo de queries listadas")
	workerCreateCmd.Flags().String("image", "", "imagem Docker do worker")
	workerRemoveCmd.Flags().Bool("force", false, "remove sem esperar o container parar")
	rootCmd.AddCommand(queryCmd, planCmd, workersCmd, statsCmd, recentCmd, cancelCmd, workerCreateCmd, workerRemoveCmd)
}

func printResult(resp service.QueryResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(resp.Columns, "\t"))
	for _, row := range resp.Rows {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			if v == nil {
				cells = append(cells, "NULL")
				continue
			}
			cells = append(cells, fmt.Sprintf("%v", v))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	fmt.Printf("(%d linhas em %d ms)\n", resp.RowsReturned, resp.ExecutionTimeMs)
}

func postJSON(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(coordinatorURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(path string, out interface{}) error {
	resp, err := httpClient.Get(coordinatorURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func getRaw(path string) ([]byte, error) {
	resp, err := httpClient.Get(coordinatorURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "erro:", err)
		os.Exit(1)
	}
}
