package repository

import (
	"gorm.io/gorm"

	"github.com/kay120/Code-reader/internal/model"
)

type RepoRepository struct {
	db *gorm.DB
}

func NewRepoRepository(db *gorm.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

func (r *RepoRepository) Create(repo *model.Repository) error {
	return r.db.Create(repo).Error
}

func (r *RepoRepository) GetByID(id int64) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (r *RepoRepository) List() ([]*model.Repository, error) {
	var repos []*model.Repository
	err := r.db.Order("created_at DESC").Find(&repos).Error
	return repos, err
}

func (r *RepoRepository) Update(repo *model.Repository) error {
	return r.db.Save(repo).Error
}
