package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/devscope-hq/devscope/internal/config"
	"github.com/devscope-hq/devscope/internal/errs"
)

const tokenSettingsURL = "https://github.com/settings/tokens/new?scopes=read:user,read:org&description=devscope"

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up the GitHub token and default configuration",
	Long: `Walks through DevScope setup: store a GitHub token securely and create
the default config file.

The token is stored in the OS keychain when one is available (macOS
Keychain, Windows Credential Manager, Linux Secret Service), otherwise
in the config file. Only public-data scopes are needed: read:user and
read:org. Without a token DevScope still works on the anonymous
60 calls/hour quota.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().String("token", "", "GitHub token (prompts when omitted)")
	configureCmd.Flags().Bool("open-browser", false, "open the GitHub token settings page")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	token, _ := cmd.Flags().GetString("token")
	openBrowser, _ := cmd.Flags().GetBool("open-browser")

	fmt.Println("🔧 DevScope Configuration")
	fmt.Println(strings.Repeat("━", 40))
	fmt.Println()

	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	kr := config.NewKeyring()
	if !kr.IsAvailable() {
		fmt.Println("⚠️  OS keychain not available (headless system or Linux without libsecret)")
		fmt.Printf("   The token will be stored in %s instead.\n", configPath)
		fmt.Println()
	}

	fmt.Println("Step 1/2: GitHub Token")
	current, _ := kr.GitHubToken()
	if current == "" {
		current = os.Getenv("GITHUB_TOKEN")
	}
	if current != "" {
		fmt.Printf("Current: %s\n", config.MaskToken(current))
	} else {
		fmt.Println("A token raises the API quota from 60 to 5,000 calls/hour.")
		fmt.Printf("Create one at: %s\n", tokenSettingsURL)
	}

	if token == "" {
		if openBrowser {
			if err := browser.OpenURL(tokenSettingsURL); err != nil {
				fmt.Printf("⚠️  Could not open browser: %v\n", err)
			}
		}
		fmt.Print("Enter token (leave empty to keep current): ")
		entered, err := config.ReadSecret()
		if err != nil {
			return errs.ConfigErrorf("read token: %v", err)
		}
		token = entered
	}

	if token != "" {
		location, err := config.StoreToken(token, configPath)
		if err != nil {
			return err
		}
		if location == "keychain" {
			fmt.Println("✅ Token saved to the OS keychain")
		} else {
			fmt.Printf("✅ Token saved to %s\n", location)
		}
	} else {
		fmt.Println("⏭️  Token unchanged")
	}

	fmt.Println()
	fmt.Println("Step 2/2: Config File")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("✅ Using existing %s\n", configPath)
	} else {
		if err := config.Default().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("✅ Wrote defaults to %s\n", configPath)
	}

	fmt.Println()
	fmt.Println("🎯 Next: add seed_orgs, seed_repos or watchlist_usernames to the")
	fmt.Println("   config, then run: devscope enrich")
	return nil
}
