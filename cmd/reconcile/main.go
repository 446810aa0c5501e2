package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/app"
	"reconcile/internal/catalog"
	"reconcile/internal/config"
	"reconcile/internal/connectors"
	"reconcile/internal/listener"
	"reconcile/internal/logging"
	"reconcile/internal/pipeline"
	"reconcile/internal/rules"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logging.New(cfg)
	must(err)

	a, err := app.Open(cfg, log)
	must(err)
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "catalog:import":
		catalogImport(ctx, a, cmd, args)
	case "catalog:export":
		catalogExport(ctx, a, cmd, args)
	case "catalog:sync":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		_ = fs.Parse(args)
		count, err := catalog.NewSyncService(a.DB, cfg, log.Named("catalog")).Sync(ctx, requireTenant(*tenant))
		must(err)
		fmt.Printf("catalog sync complete tenant=%s entries=%d\n", *tenant, count)
	case "rules:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		in := fs.String("in", "", "dictionary path (.json|.yaml)")
		replace := fs.Bool("replace", false, "replace the tenant's rules instead of merging")
		_ = fs.Parse(args)
		requireFlag("--in", *in)
		f, err := os.Open(*in)
		must(err)
		defer f.Close()
		if *replace {
			set, err := rules.DecodeDictionary(f, rules.FormatFromPath(*in))
			must(err)
			must(a.DB.ReplaceRules(ctx, requireTenant(*tenant), set))
			fmt.Printf("rules replaced tenant=%s synonyms=%d blacklist=%d\n", *tenant, len(set.Synonyms), len(set.Blacklist))
			return
		}
		n, err := rules.Import(ctx, a.DB, requireTenant(*tenant), f, rules.FormatFromPath(*in))
		must(err)
		fmt.Printf("rules imported tenant=%s rules=%d\n", *tenant, n)
	case "rules:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		out := fs.String("out", "", "dictionary path (.json|.yaml), stdout when empty")
		_ = fs.Parse(args)
		w := os.Stdout
		format := rules.FormatJSON
		if *out != "" {
			must(os.MkdirAll(filepath.Dir(*out), 0o755))
			f, err := os.Create(*out)
			must(err)
			defer f.Close()
			w = f
			format = rules.FormatFromPath(*out)
		}
		must(rules.Export(ctx, a.DB, requireTenant(*tenant), w, format))
	case "batch:run":
		batchRun(ctx, a, cmd, args)
	case "row:reprocess":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant, runID, rowNo := rowFlags(fs)
		action := fs.String("action", "", "synonym|blacklist")
		word := fs.String("word", "", "original=replacement (or original:replacement) for synonym, phrase for blacklist")
		_ = fs.Parse(args)
		row, err := a.Processor.Verify(ctx, requireTenant(*tenant), *runID, *rowNo)
		must(err)
		row.Action, row.Word = internal.RuleAction(*action), *word
		row, err = a.Processor.Reprocess(ctx, internal.Tenant(*tenant), row)
		must(err)
		printJSON(row)
	case "row:review":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant, runID, rowNo := rowFlags(fs)
		accept := fs.Bool("accept", false, "accept the proposed match")
		deny := fs.Bool("deny", false, "deny the proposed match")
		categoria := fs.String("categoria", "", "corrected categoria, stages a candidate")
		variedad := fs.String("variedad", "", "corrected variedad")
		color := fs.String("color", "", "corrected color")
		grado := fs.String("grado", "", "corrected grado")
		_ = fs.Parse(args)
		row, err := a.Processor.Verify(ctx, requireTenant(*tenant), *runID, *rowNo)
		must(err)
		d := pipeline.Decision{Accept: *accept, Deny: *deny}
		if *categoria != "" {
			d.Correction = &internal.Classification{Categoria: *categoria, Variedad: *variedad, Color: *color, Grado: *grado}
		}
		row, err = a.Processor.Review(ctx, internal.Tenant(*tenant), row, d)
		must(err)
		printJSON(row)
	case "row:verify":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant, runID, rowNo := rowFlags(fs)
		_ = fs.Parse(args)
		row, err := a.Processor.Verify(ctx, requireTenant(*tenant), *runID, *rowNo)
		must(err)
		printJSON(row)
	case "run:show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		runID := fs.String("run", "", "run id")
		_ = fs.Parse(args)
		run, err := a.DB.GetRun(ctx, requireTenant(*tenant), *runID)
		must(err)
		printJSON(run)
	case "staging:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		status := fs.String("status", "", "pending|approved|rejected|created, all when empty")
		_ = fs.Parse(args)
		list, err := a.Staging.List(ctx, requireTenant(*tenant), internal.StagingStatus(*status))
		must(err)
		printJSON(list)
	case "staging:approve", "staging:reject", "staging:promote":
		stagingTransition(ctx, a, cmd, args)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tenant := tenantFlag(fs)
		runID := fs.String("run", "", "run id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(args)
		requireFlag("--run", *runID)
		requireFlag("--out", *out)
		rows, err := a.DB.ListRows(ctx, requireTenant(*tenant), *runID)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no rows for run=%s", *runID))
		}
		must(pipeline.ExportRowsToXLSX(rows, *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(args)
		conn, err := listener.MakeConnector(ctx, cfg, *provider, log.Named("mail"))
		must(err)
		fetch := connectors.NewFetchService(a.DB, cfg.RawMailDir, conn, log.Named("mail"))
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(args)
		svc := listener.NewService(a.DB, cfg, a.Batch, log.Named("listener"))
		n, err := svc.ProcessPending(ctx, strings.ToLower(*provider), *batch)
		must(err)
		fmt.Printf("processed pending emails=%d\n", n)
	case "mail:listen":
		svc := listener.NewService(a.DB, cfg, a.Batch, log.Named("listener"))
		must(svc.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func catalogImport(ctx context.Context, a *app.App, cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	tenant := tenantFlag(fs)
	in := fs.String("in", "", "catalog xlsx path")
	header := fs.Bool("header", true, "first row is a header")
	_ = fs.Parse(args)
	requireFlag("--in", *in)

	entries, rowErrs, err := pipeline.ReadCatalogFile(*in, *header)
	must(err)
	for _, e := range rowErrs {
		a.Log.Warn("catalog row skipped", zap.Error(e))
	}
	n, err := a.DB.UpsertCatalogEntries(ctx, requireTenant(*tenant), entries)
	must(err)
	fmt.Printf("catalog import done tenant=%s entries=%d skipped=%d\n", *tenant, n, len(rowErrs))
}

func catalogExport(ctx context.Context, a *app.App, cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	tenant := tenantFlag(fs)
	out := fs.String("out", "", "output xlsx path")
	_ = fs.Parse(args)
	requireFlag("--out", *out)

	entries, err := a.DB.ListCatalog(ctx, requireTenant(*tenant))
	must(err)
	must(pipeline.ExportCatalogToXLSX(entries, *out))
	fmt.Printf("exported %d catalog entries to %s\n", len(entries), *out)
}

func batchRun(ctx context.Context, a *app.App, cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	tenant := tenantFlag(fs)
	in := fs.String("in", "", "input file (.xlsx|.xls|.csv|.html|.eml)")
	out := fs.String("out", "", "output xlsx path, optional")
	header := fs.Bool("header", a.Cfg.InputHasHeader, "first row is a header")
	quiet := fs.Bool("quiet", false, "no progress output")
	_ = fs.Parse(args)
	requireFlag("--in", *in)

	records, err := pipeline.ReadRecordsFile(*in, *header)
	must(err)

	var progress pipeline.ProgressFunc
	if !*quiet {
		progress = func(p pipeline.Progress) {
			fmt.Fprintf(os.Stderr, "\r%-9s %3.0f%%", p.Phase, p.Fraction*100)
			if p.Phase == pipeline.PhaseDone {
				fmt.Fprintln(os.Stderr)
			}
		}
	}
	res, err := a.Batch.Run(ctx, requireTenant(*tenant), filepath.Base(*in), records, progress)
	if *out != "" && len(res.Rows) > 0 {
		must(pipeline.ExportRowsToXLSX(res.Rows, *out))
	}
	must(err)
	s := res.Summary
	fmt.Printf("run=%s total=%d processed=%d duplicates=%d invalid=%d errors=%d failed=%d persisted=%d\n",
		res.RunID, s.Total, s.Processed, s.Duplicates, s.Invalid, s.Errors, s.Failed, s.Persisted)
}

func stagingTransition(ctx context.Context, a *app.App, cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	tenant := tenantFlag(fs)
	id := fs.String("id", "", "staging candidate id")
	catalogID := fs.String("catalogId", "", "catalog_id for the new entry (promote only)")
	_ = fs.Parse(args)
	requireFlag("--id", *id)

	t := requireTenant(*tenant)
	var cand internal.StagingCandidate
	var err error
	switch cmd {
	case "staging:approve":
		cand, err = a.Staging.Approve(ctx, t, *id)
	case "staging:reject":
		cand, err = a.Staging.Reject(ctx, t, *id)
	default:
		cand, err = a.Staging.Promote(ctx, t, *id, *catalogID)
	}
	must(err)
	printJSON(cand)
}

func tenantFlag(fs *flag.FlagSet) *string {
	return fs.String("tenant", "", "tenant id")
}

func rowFlags(fs *flag.FlagSet) (*string, *string, *int) {
	return tenantFlag(fs), fs.String("run", "", "run id"), fs.Int("row", 0, "1-based row number")
}

func requireTenant(tenant string) internal.Tenant {
	requireFlag("--tenant", tenant)
	return internal.Tenant(strings.TrimSpace(tenant))
}

func requireFlag(name, value string) {
	if strings.TrimSpace(value) == "" {
		must(fmt.Errorf("%s is required", name))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func usage() {
	fmt.Println("usage: reconcile <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:import  --tenant=T --in=catalog.xlsx [--header=true]")
	fmt.Println("  catalog:export  --tenant=T --out=catalog.xlsx")
	fmt.Println("  catalog:sync    --tenant=T")
	fmt.Println("  rules:import    --tenant=T --in=rules.json|yaml [--replace]")
	fmt.Println("  rules:export    --tenant=T [--out=rules.json|yaml]")
	fmt.Println("  batch:run       --tenant=T --in=offer.xlsx|xls|csv|html|eml [--out=result.xlsx]")
	fmt.Println("  row:reprocess   --tenant=T --run=R --row=N [--action=synonym|blacklist --word=...]")
	fmt.Println("  row:review      --tenant=T --run=R --row=N --accept|--deny [--categoria=... --variedad=... --color=... --grado=...]")
	fmt.Println("  row:verify      --tenant=T --run=R --row=N")
	fmt.Println("  run:show        --tenant=T --run=R")
	fmt.Println("  staging:list    --tenant=T [--status=pending]")
	fmt.Println("  staging:approve --tenant=T --id=ID")
	fmt.Println("  staging:reject  --tenant=T --id=ID")
	fmt.Println("  staging:promote --tenant=T --id=ID --catalogId=CAT")
	fmt.Println("  export:xlsx     --tenant=T --run=R --out=result.xlsx")
	fmt.Println("  mail:fetch      --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process    --provider=gmail|imap [--batch=20]")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
