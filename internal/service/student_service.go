package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/ctech/ctech-exam/internal/model"
	"github.com/ctech/ctech-exam/internal/repository"
)

// StudentService handles student account business logic.
type StudentService struct {
	studentRepo *repository.StudentRepository
	bcryptCost  int
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, bcryptCost int) *StudentService {
	return &StudentService{studentRepo: studentRepo, bcryptCost: bcryptCost}
}

// GetByRegisterNumber retrieves a student by their register number.
func (s *StudentService) GetByRegisterNumber(ctx context.Context, registerNumber string) (*model.Student, error) {
	return s.studentRepo.GetByRegisterNumber(ctx, registerNumber)
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// CreateStudent hashes the password and inserts a new student.
func (s *StudentService) CreateStudent(ctx context.Context, req model.CreateStudentRequest) (*model.Student, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	student := &model.Student{
		RegisterNumber: req.RegisterNumber,
		Name:           req.Name,
		Email:          req.Email,
		PasswordHash:   string(hash),
	}
	if err := s.studentRepo.Create(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}
