package sqlinline

const QSelectUserProfile = `--sql 7b1f2c3d-9a4e-4f6b-8c2d-1e5a7f9b3c6d
select id, role, credits
from users
where id = $1::uuid
limit 1;
`

const QChargeCredits = `--sql 3e8a1b5c-2f7d-4a9e-b6c1-8d4f0a2e7b9c
with charge as (
  insert into credit_charges(charge_token, user_id, amount, created_at)
  values ($1::uuid, $2::uuid, $3::int, now())
  on conflict (charge_token) do nothing
  returning charge_token
),
debited as (
  update users u
  set credits = u.credits - $3::int,
      updated_at = now()
  where u.id = $2::uuid
    and exists (select 1 from charge)
  returning u.credits
)
select coalesce(
  (select credits from debited),
  (select credits from users where id = $2::uuid)
);
`
