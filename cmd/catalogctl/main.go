package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/soundbridge/catalog/internal/config"
	"github.com/soundbridge/catalog/link"
	"github.com/soundbridge/catalog/webapi"
)

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCLI(args []string) error {
	var configPath string
	var uri string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "help", "--help", "-h":
			fmt.Println("Usage: catalogctl [options] <uri>")
			fmt.Println("Options:")
			fmt.Println("  --help, -h              Show this help message")
			fmt.Println("  --config <path>         Load settings from a TOML file")
			fmt.Println("  CATALOG_CLIENT_ID       Your API client ID (optional, enables auth)")
			fmt.Println("  CATALOG_CLIENT_SECRET   Your API client secret (optional)")
			fmt.Println("Examples:")
			fmt.Println("  catalogctl catalog:track:6rqhFgbbKwnb9MLmUQDhG6")
			fmt.Println("  catalogctl catalog:user:alice:playlist:37i9dQZF1DXcBWIGoYBM5M")
			return nil
		case "version", "--version", "-v":
			fmt.Println("catalogctl v0.1.0")
			return nil
		case "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("--config requires a path")
			}
			i++
			configPath = args[i]
		default:
			if strings.HasPrefix(args[i], "-") {
				return fmt.Errorf("unknown option: %s", args[i])
			}
			uri = args[i]
		}
	}
	if uri == "" {
		return fmt.Errorf("a catalog URI is required, see --help")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	client, err := webapi.NewCatalogClientFromConfig(cfg, webapi.WithLogger(logger))
	if err != nil {
		return err
	}

	out, err := fetch(context.Background(), client, uri)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func fetch(ctx context.Context, client *webapi.CatalogClient, uri string) (any, error) {
	l, err := link.Parse(uri)
	if err != nil {
		return nil, err
	}

	switch l.Kind {
	case link.KindTrack:
		return client.GetTrack(ctx, uri).Body, nil
	case link.KindAlbum:
		albums := client.GetAlbums(ctx, []*link.Link{l})
		if len(albums) == 0 {
			return nil, fmt.Errorf("album lookup failed for %s", uri)
		}
		return albums[0], nil
	case link.KindArtist:
		return client.GetArtistAlbums(ctx, l, false), nil
	case link.KindPlaylist:
		playlist := client.GetPlaylist(ctx, uri)
		if playlist == nil {
			return nil, fmt.Errorf("playlist lookup failed for %s", uri)
		}
		return playlist, nil
	default:
		return nil, fmt.Errorf("cannot fetch %s links", l.Kind)
	}
}
