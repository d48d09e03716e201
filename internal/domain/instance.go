package domain

import (
	"strconv"
	"strings"
)

// DefaultSSHPort 未在端口映射中找到 22 时使用
const DefaultSSHPort = 22

// Instance 管理服务返回的一台租用实例（只读）
type Instance struct {
	ID         int64    `json:"id"`
	Specs      Specs    `json:"specs"`
	PubCluster []string `json:"pub_cluster"` // 公网主机名
	TCPPorts   []string `json:"tcp_ports"`   // "内部端口:外部端口"
}

type Specs struct {
	GPU string `json:"gpu"`
}

// ResolveHostPort 取第一个公网主机名，并在端口列表中查找内部端口 22 的外部映射。
func ResolveHostPort(inst Instance) (string, int) {
	host := ""
	if len(inst.PubCluster) > 0 {
		host = inst.PubCluster[0]
	}
	for _, p := range inst.TCPPorts {
		internal, external, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || internal != "22" {
			continue
		}
		port, err := strconv.Atoi(external)
		if err != nil || port <= 0 || port > 65535 {
			continue
		}
		return host, port
	}
	return host, DefaultSSHPort
}
