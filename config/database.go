package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// DatabaseConfig 关系库配置。
// 支持 mysql 与 postgres 两种驱动，关系表只依赖唯一索引与行级原子更新。
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // mysql / postgres
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbName" yaml:"dbName"`

	// 只读副本（dbresolver），为空时不启用读写分离
	Replicas []string `json:"replicas" yaml:"replicas"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	SlowThreshold   time.Duration `json:"slowThreshold" yaml:"slowThreshold"` // 慢 SQL 阈值
	AutoMigrate     bool          `json:"autoMigrate" yaml:"autoMigrate"`     // 启动时自动建表
}

// DefaultDatabaseConfig 返回本地开发的默认配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "127.0.0.1",
		Port:            5432,
		User:            "qm",
		Password:        "sm.123456",
		DBName:          "qm",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		SlowThreshold:   200 * time.Millisecond,
		AutoMigrate:     true,
	}
}

// DSN 根据驱动拼接连接串
func (c DatabaseConfig) DSN() string {
	return c.dsnFor(c.Host, c.Port)
}

// ReplicaDSN 副本地址格式为 host:port，用户名与密码按各驱动规则转义。
// mysql 开启 clientFoundRows，UPDATE 的影响行数按匹配行计算，备注未变化时也为 1。
func (c DatabaseConfig) ReplicaDSN(hostPort string) string {
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql", "pg":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     hostPort,
			Path:     "/" + c.DBName,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	}

	my := mysqldriver.NewConfig()
	my.User = c.User
	my.Passwd = c.Password
	my.Net = "tcp"
	my.Addr = hostPort
	my.DBName = c.DBName
	my.ParseTime = true
	my.Loc = time.Local
	my.ClientFoundRows = true
	my.Params = map[string]string{"charset": "utf8mb4"}
	return my.FormatDSN()
}

func (c DatabaseConfig) dsnFor(host string, port int) string {
	return c.ReplicaDSN(fmt.Sprintf("%s:%d", host, port))
}
