package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/mmcdole/kiosk/internal/imagecache"
)

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "catalog":
		return a.runCatalog(ctx, rest)
	case "lookup":
		return a.runLookup(ctx, rest)
	case "search":
		return a.runSearch(ctx, rest)
	case "image":
		return a.runImage(ctx, rest)
	case "invalidate":
		return a.runInvalidate(ctx, rest)
	case "clear":
		return a.runClear(ctx, rest)
	case "check-update":
		return a.runCheckUpdate(ctx, rest)
	case "stats":
		return a.runStats(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (a *app) runCatalog(ctx context.Context, args []string) error {
	fs := newFlagSet("catalog")
	limit := fs.Int("n", 20, "number of records to list (0 for all)")
	refresh := fs.Bool("refresh", false, "discard cached copies first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		snap *domain.CatalogSnapshot
		err  error
	)
	if *refresh {
		snap, err = a.catalog.Refresh(ctx)
	} else {
		snap, err = a.catalog.GetCatalog(ctx)
	}
	if err != nil {
		return err
	}

	md := snap.Metadata
	a.out.title("Catalog")
	a.out.field("source", md.SourceKind)
	a.out.field("origin", md.Origin)
	a.out.field("records", snap.Len())
	if !md.FetchedAt.IsZero() {
		a.out.field("fetched", md.FetchedAt.Local().Format(time.RFC1123))
	}
	if md.LastModified != "" {
		a.out.field("last modified", md.LastModified)
	}
	if md.ListVersion != "" {
		a.out.field("list version", md.ListVersion)
	}
	fmt.Fprintln(a.out.w)

	for i, r := range snap.Records {
		if *limit > 0 && i >= *limit {
			a.out.dim(fmt.Sprintf("  … %d more", snap.Len()-i))
			break
		}
		a.out.item(r.Title, recordDetail(r))
	}
	return nil
}

func recordDetail(r domain.CatalogRecord) string {
	var parts []string
	if r.Version != "" {
		parts = append(parts, "v"+r.Version)
	}
	if r.Size != "" {
		parts = append(parts, r.Size)
	}
	if r.HasImage() {
		parts = append(parts, "img:"+r.ImageID)
	}
	if r.GameID != "" {
		parts = append(parts, "game:"+r.GameID)
	}
	return strings.Join(parts, " · ")
}

func (a *app) runLookup(ctx context.Context, args []string) error {
	fs := newFlagSet("lookup")
	byGame := fs.Bool("game", false, "treat id as a game id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("lookup needs exactly one id")
	}
	id := fs.Arg(0)

	var (
		rec domain.CatalogRecord
		ok  bool
		err error
	)
	if *byGame {
		rec, ok, err = a.catalog.LookupByGameID(ctx, id)
	} else {
		rec, ok, err = a.catalog.LookupByImageID(ctx, id)
	}
	if err != nil {
		return err
	}
	if !ok {
		// Names are accepted too.
		rec, ok, err = a.catalog.FindByName(ctx, id)
		if err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("no record for %q", id)
	}

	a.printRecord(rec)
	return nil
}

func (a *app) printRecord(r domain.CatalogRecord) {
	a.out.title(r.Title)
	a.out.field("id", r.ID)
	a.out.field("image id", r.ImageID)
	a.out.field("game id", r.GameID)
	if r.Version != "" {
		a.out.field("version", r.Version)
	}
	if r.Size != "" {
		a.out.field("size", r.Size)
	}
	if len(r.Categories) > 0 {
		a.out.field("categories", strings.Join(r.Categories, ", "))
	}
	a.out.field("online", r.Online)
	a.out.field("dlc", r.DLC)
	for provider, links := range r.DownloadLinks {
		a.out.field(provider, fmt.Sprintf("%d link(s)", len(links)))
	}
	if r.Description != "" {
		fmt.Fprintln(a.out.w)
		fmt.Fprintln(a.out.w, r.Description)
	}
}

func (a *app) runSearch(ctx context.Context, args []string) error {
	fs := newFlagSet("search")
	limit := fs.Int("n", 10, "maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("search needs a query")
	}

	matches, err := a.catalog.Search(ctx, query, *limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		a.out.dim("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(a.out.w, "  %s %s\n", a.out.highlight(m.Record.Title, m.MatchedIndexes), a.out.render(dimStyle, recordDetail(m.Record)))
	}
	return nil
}

func (a *app) runImage(ctx context.Context, args []string) error {
	fs := newFlagSet("image")
	lowQuality := fs.Bool("low", false, "accept a thumbnail-quality image")
	byGame := fs.Bool("game", false, "treat id as a game id")
	output := fs.String("o", "", "write the image to this file")
	open := fs.Bool("open", false, "show the image in the configured viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("image needs exactly one id")
	}
	id := fs.Arg(0)

	opts := imagecache.Options{Quality: domain.QualityHigh, Priority: domain.PriorityHigh}
	if *lowQuality {
		opts.Quality = domain.QualityLow
	}

	var (
		img *imagecache.Image
		err error
	)
	if *byGame {
		img, err = a.images.GetImageForGame(ctx, id, opts)
	} else {
		img, err = a.images.GetImage(ctx, id, opts)
	}
	if err != nil {
		if domain.IsServiceOffline(err) {
			return fmt.Errorf("the artwork service is offline, try again later")
		}
		return err
	}
	if img == nil {
		return fmt.Errorf("no image for %q", id)
	}

	a.out.field("image", img.ID)
	a.out.field("source", img.Source)
	a.out.field("quality", img.Quality)
	a.out.field("bytes", len(img.Data))

	target := img.URL
	if *output != "" {
		if err := os.WriteFile(*output, img.Data, 0644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		a.out.success("wrote " + *output)
		target = *output
	}

	if !*open {
		return nil
	}
	if target == "" {
		f, err := os.CreateTemp("", "kiosk-*.jpg")
		if err != nil {
			return err
		}
		if _, err := f.Write(img.Data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		target = f.Name()
	}
	return a.opener.Open(target)
}

func (a *app) runInvalidate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("invalidate needs an image id")
	}
	id, derived := args[0], args[1:]

	// The record's derived cover key goes too when the catalog knows it.
	if rec, ok, err := a.catalog.LookupByImageID(ctx, id); err == nil && ok {
		derived = append(derived, imagecache.DerivedCoverKey(rec.ID))
	}

	if err := a.images.Invalidate(ctx, id, derived...); err != nil {
		return err
	}
	a.out.success("invalidated " + id)
	return nil
}

func (a *app) runClear(ctx context.Context, args []string) error {
	fs := newFlagSet("clear")
	keepCatalog := fs.Bool("keep-catalog", false, "do not refresh the catalog afterwards")
	all := fs.Bool("all", false, "also drop the persisted catalog and every other stored entry")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *all {
		if err := a.images.Clear(ctx, imagecache.ClearOptions{SkipCatalogRefresh: true}); err != nil {
			return err
		}
		if err := a.kv.InvalidateAll(); err != nil {
			return fmt.Errorf("failed to empty cache store: %w", err)
		}
		a.catalog.Invalidate(ctx)
		a.out.success("all cached data cleared")
		return nil
	}

	if err := a.images.Clear(ctx, imagecache.ClearOptions{SkipCatalogRefresh: *keepCatalog}); err != nil {
		return err
	}
	a.out.success("artwork cache cleared")
	return nil
}

func (a *app) runCheckUpdate(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("check-update needs a game id and a local version")
	}

	info, err := a.remote.CheckUpdate(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if !info.UpdateAvailable {
		a.out.success(fmt.Sprintf("%s is up to date (%s)", info.GameID, info.LocalVersion))
		return nil
	}
	a.out.title("Update available")
	a.out.field("game id", info.GameID)
	a.out.field("installed", info.LocalVersion)
	a.out.field("latest", info.LatestVersion)
	return nil
}

func (a *app) runStats(ctx context.Context, args []string) error {
	s := a.images.Stats()
	a.out.title("Artwork cache")
	a.out.field("entries", fmt.Sprintf("%d/%d", s.Entries, s.Capacity))
	a.out.field("in flight", s.InFlight)
	a.out.field("misses", fmt.Sprintf("%d/%d", s.NotFoundStreak, s.NotFoundThreshold))
	a.out.field("clears", s.Clears)
	a.out.field("persistent", a.kv.Persistent())
	for _, b := range []domain.Bucket{domain.BucketImages, domain.BucketDerived} {
		keys, err := a.kv.Keys(b)
		if err != nil {
			return err
		}
		a.out.field("stored "+string(b), len(keys))
	}

	if md, ok := a.catalog.Metadata(); ok {
		fmt.Fprintln(a.out.w)
		a.out.title("Catalog")
		a.out.field("source", md.SourceKind)
		a.out.field("records", md.RecordCount)
	}
	return nil
}
