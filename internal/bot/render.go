package bot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

// 按钮负载
const (
	PayloadViewOrders  = "view_orders"
	PayloadBulk        = "bulk_command"
	PayloadStart       = "start"
	PayloadClose       = "close"
	PayloadPassword    = "password"
	PayloadPublicKey   = "public_key"
	PayloadOrderPrefix = "order_"
)

// 回复文案
const (
	WelcomeText          = "Welcome to the Clore.ai Bot! Choose an option:"
	SelectOrderText      = "Select an order:"
	NoOrdersText         = "No active orders found."
	OrderNotFoundText    = "Order not found. Please try again."
	InvalidSelectionText = "Invalid selection. Please try again."
	ChooseAuthText       = "Choose authentication method:"
	EnterPasswordText    = "Please enter your password:"
	EnterCommandText     = "Please enter the command you want to run:"
	EnterBulkCommandText = "Please enter the command to run on all instances:"
	NextStepText         = "What would you like to do next?"
	GoodbyeText          = "Goodbye!"
	CancelledText        = "Cancelled. Send /start to begin again."
	NoSessionText        = "No active session. Send /start to begin."
	AuthMissingText      = "Authentication method not found. Please start again."
)

func WelcomeMenu() [][]Choice {
	return [][]Choice{{{Label: "View My Orders", Payload: PayloadViewOrders}}}
}

// OrderLabel 订单按钮文字
func OrderLabel(inst domain.Instance) string {
	return fmt.Sprintf("Order ID: %d | GPU: %s", inst.ID, inst.Specs.GPU)
}

// OrderMenu 每个实例一行，末尾附批量执行与关闭
func OrderMenu(instances []domain.Instance) [][]Choice {
	rows := lo.Map(instances, func(inst domain.Instance, _ int) []Choice {
		return []Choice{{Label: OrderLabel(inst), Payload: fmt.Sprintf("%s%d", PayloadOrderPrefix, inst.ID)}}
	})
	return append(rows,
		[]Choice{{Label: "Run on All Instances", Payload: PayloadBulk}},
		[]Choice{{Label: "Close", Payload: PayloadClose}},
	)
}

func AuthMenu() [][]Choice {
	return [][]Choice{
		{{Label: "Password", Payload: PayloadPassword}},
		{{Label: "Public Key", Payload: PayloadPublicKey}},
		{{Label: "Close", Payload: PayloadClose}},
	}
}

// NextMenu 单机命令执行后的菜单
func NextMenu(orderID int64) [][]Choice {
	return [][]Choice{
		{{Label: "Run Another Command", Payload: fmt.Sprintf("%s%d", PayloadOrderPrefix, orderID)}},
		{{Label: "Back to Orders", Payload: PayloadViewOrders}},
		{{Label: "Close", Payload: PayloadClose}},
	}
}

// BulkNextMenu 批量执行后的菜单
func BulkNextMenu() [][]Choice {
	return [][]Choice{
		{{Label: "Back to Orders", Payload: PayloadViewOrders}},
		{{Label: "Close", Payload: PayloadClose}},
	}
}

func FormatCommandOutput(host, output string) string {
	return fmt.Sprintf("Output from instance %s:\n%s", host, output)
}

// FormatBulkReport 按实例 ID 升序拼接每台的输出或错误
func FormatBulkReport(results map[int64]domain.ExecResult) string {
	ids := lo.Keys(results)
	slices.Sort(ids)
	blocks := make([]string, 0, len(ids))
	for _, id := range ids {
		blocks = append(blocks, fmt.Sprintf("Order %d:\n%s", id, results[id].Text()))
	}
	return "Outputs from all instances:\n" + strings.Join(blocks, "\n\n")
}

// ParseOrderPayload 解析 order_<id>
func ParseOrderPayload(payload string) (int64, bool) {
	raw, ok := strings.CutPrefix(payload, PayloadOrderPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
