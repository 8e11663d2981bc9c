package models

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"reelforge-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	if err := GormDB.AutoMigrate(&Project{}, &WorkspaceCredential{}); err != nil {
		log.Printf("自动建表失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")
}

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return GormDB.Create(p).Error
}

func GetProjectByID(id string) (*Project, error) {
	var p Project
	if err := GormDB.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProject 整体写回项目文档。流水线每个阶段读出、内存修改、阶段结束整体落库，
// 并发触发同一项目时为 last-write-wins（见 service/pipeline.go）。
func SaveProject(p *Project) error {
	p.UpdatedAt = time.Now()
	return GormDB.Save(p).Error
}

// UpdateProjectStatus 只改状态（失败标记等轻量更新用，避免整体写回）
func UpdateProjectStatus(id, status string) error {
	return GormDB.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error
}

// UpdateProjectMeta 只更新标题/主题中的非空字段
func UpdateProjectMeta(id, title, topic string) error {
	sets := []string{}
	args := []interface{}{}
	if title != "" {
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if topic != "" {
		sets = append(sets, "topic = ?")
		args = append(args, topic)
	}
	if len(sets) == 0 {
		// 无需更新
		return nil
	}
	query := fmt.Sprintf("UPDATE project SET %s, updated_at = ? WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, time.Now(), id)
	_, err := DB.Exec(query, args...)
	return err
}

func DeleteProjectByID(id string) error {
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}

func ListProjectsByWorkspace(workspaceID string) ([]Project, error) {
	var res []Project
	err := GormDB.Where("workspace_id = ?", workspaceID).Order("created_at DESC").Find(&res).Error
	return res, err
}
