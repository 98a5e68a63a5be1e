package services

import (
	"context"
	"log"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// MemberService is the thin admin surface over member profiles. Account
// creation and authentication live with the external auth collaborator; this
// service only manages the member rows the circulation engine references.
type MemberService interface {
	CreateMember(ctx context.Context, member *models.Member) (*models.Member, error)
	GetMember(ctx context.Context, memberID int64) (*models.Member, error)
	GetMemberByUserID(ctx context.Context, userID int64) (*models.Member, error)
	ListMembers(ctx context.Context) ([]models.Member, error)
}

type memberService struct {
	memberRepo repositories.MemberRepository
}

func NewMemberService(memberRepo repositories.MemberRepository) MemberService {
	return &memberService{memberRepo: memberRepo}
}

func (s *memberService) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	if err := s.memberRepo.Create(nil, member); err != nil {
		return nil, err
	}
	log.Printf("[INFO] CreateMember: member %d created for user %d", member.MemberID, member.UserID)
	return member, nil
}

func (s *memberService) GetMember(ctx context.Context, memberID int64) (*models.Member, error) {
	member, err := s.memberRepo.GetByID(nil, memberID)
	if err != nil {
		if notFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

func (s *memberService) GetMemberByUserID(ctx context.Context, userID int64) (*models.Member, error) {
	member, err := s.memberRepo.GetByUserID(nil, userID)
	if err != nil {
		if notFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

func (s *memberService) ListMembers(ctx context.Context) ([]models.Member, error) {
	return s.memberRepo.List(nil)
}
