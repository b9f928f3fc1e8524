package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/zhangpanweb/tapable/internal/api"
	"github.com/zhangpanweb/tapable/pkg/hook"
	"github.com/zhangpanweb/tapable/pkg/hooks"
	"github.com/zhangpanweb/tapable/pkg/logger"
	"github.com/zhangpanweb/tapable/sdk/go/hookclient"
)

func main() {
	registry := hooks.NewRegistry()
	resolve, err := registry.Create("resolve", hooks.FamilySyncWaterfall, []string{"request"})
	if err != nil {
		panic(err)
	}
	_ = resolve.Tap("lowercase", func(args ...any) (any, error) {
		return strings.ToLower(fmt.Sprint(args[0])), nil
	})
	_ = resolve.Tap(hook.TapOptions{Name: "prefix", Stage: hook.Stage(10)}, func(args ...any) (any, error) {
		return "./node_modules/" + fmt.Sprint(args[0]), nil
	})

	srv := httptest.NewServer(api.NewServer("", registry, api.WithAuditLogger(logger.Discard())).Handler())
	defer srv.Close()

	client, err := hookclient.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	list, err := client.ListHooks(ctx)
	if err != nil {
		panic(err)
	}
	for _, h := range list {
		fmt.Printf("hook %s (%s) taps=%d\n", h.Name, h.Family, len(h.Taps))
	}

	res, err := client.Call(ctx, "resolve", hookclient.ModeSync, "Lodash")
	if err != nil {
		panic(err)
	}
	fmt.Printf("resolve -> %v\n", res.Result)
}
