// Command keyctl manages service API keys and accounts directly against the
// database. Issued key material is printed to stdout exactly once and is not
// recoverable afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"keygate.io/internal/account"
	"keygate.io/internal/apikey"
	"keygate.io/internal/credential"
	"keygate.io/internal/store/pg"
)

const usage = `usage: keyctl <command> [flags]

commands:
  issue       -name <n> -scopes read,write    issue a new key, print material
  rotate      -name <n>                       rotate a key, print new material
  deactivate  -name <n>                       permanently deactivate a key
  list                                        list keys (no secrets)
  provision   -email <e> -password <p> [-role <r>] [-display <d>] [-tenant <t>]
                                              create or update an account
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	dsn := os.Getenv("KEYGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("KEYGATE_PG_DSN is required")
	}
	db, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry := apikey.NewRegistry(pg.NewKeyStore(db))

	switch os.Args[1] {
	case "issue":
		fs := flag.NewFlagSet("issue", flag.ExitOnError)
		name := fs.String("name", "", "key name")
		scopes := fs.String("scopes", "read", "comma-separated scopes")
		_ = fs.Parse(os.Args[2:])
		material, key, err := registry.Issue(ctx, *name, parseScopes(*scopes))
		if err != nil {
			log.Fatalf("issue: %v", err)
		}
		fmt.Printf("issued %s (%s)\n", key.Name, key.DisplayPrefix)
		fmt.Println(material)

	case "rotate":
		fs := flag.NewFlagSet("rotate", flag.ExitOnError)
		name := fs.String("name", "", "key name")
		_ = fs.Parse(os.Args[2:])
		material, key, err := registry.Rotate(ctx, *name)
		if err != nil {
			log.Fatalf("rotate: %v", err)
		}
		fmt.Printf("rotated %s (%s)\n", key.Name, key.DisplayPrefix)
		fmt.Println(material)

	case "deactivate":
		fs := flag.NewFlagSet("deactivate", flag.ExitOnError)
		name := fs.String("name", "", "key name")
		_ = fs.Parse(os.Args[2:])
		key, err := registry.Deactivate(ctx, *name)
		if err != nil {
			log.Fatalf("deactivate: %v", err)
		}
		fmt.Printf("deactivated %s\n", key.Name)

	case "list":
		keys, err := registry.List(ctx)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		for _, k := range keys {
			state := "active"
			if !k.Active {
				state = "inactive"
			}
			fmt.Printf("%-24s %-12s %-9s %s\n", k.Name, k.DisplayPrefix, state, joinScopes(k.Scopes))
		}

	case "provision":
		fs := flag.NewFlagSet("provision", flag.ExitOnError)
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		role := fs.String("role", string(account.RoleStandard), "account role")
		display := fs.String("display", "", "display name")
		tenant := fs.String("tenant", "", "tenant id")
		forceRole := fs.Bool("force-role", false, "overwrite role on existing account")
		_ = fs.Parse(os.Args[2:])
		prov := account.NewProvisioner(pg.NewAccountStore(db), credential.NewHasher(12))
		acc, created, err := prov.Ensure(ctx, account.ProvisionRequest{
			Email:       *email,
			Password:    *password,
			DisplayName: *display,
			Role:        account.Role(*role),
			TenantID:    *tenant,
			ForceRole:   *forceRole,
		})
		if err != nil {
			log.Fatalf("provision: %v", err)
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		fmt.Printf("%s %s (%s, role=%s)\n", verb, acc.Email, acc.ID, acc.Role)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func parseScopes(raw string) []apikey.Scope {
	var scopes []apikey.Scope
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, apikey.Scope(s))
		}
	}
	return scopes
}

func joinScopes(scopes []apikey.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
