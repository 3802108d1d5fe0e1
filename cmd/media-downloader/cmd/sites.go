package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go-media-download/internal/api"
)

// sitesCmd represents the sites command
var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List platforms the backend supports",
	RunE:  runSites,
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}

func runSites(cmd *cobra.Command, args []string) error {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.APIClientTimeoutSec) * time.Second,
	}
	client := api.NewClient(globalConfig.ServerURL, httpClient)

	sites, err := client.GetSupportedSites(cmd.Context())
	if err != nil {
		return err
	}

	for _, site := range sites {
		fmt.Printf("%-12s %s\n", site.Name, strings.Join(site.Domains, ", "))
	}
	return nil
}
